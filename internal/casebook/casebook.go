// Package casebook loads the character database and assembles per-suspect
// persona system prompts. A default database ships embedded in the binary;
// a file on disk can override it and is hot-reloaded on change.
package casebook

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
)

// NumSuspects is the size of the cast. Suspect IDs run 1..NumSuspects.
const NumSuspects = 6

// systemRole is the backend-facing preamble that frames every persona.
// It stays in English: instruction-following is stronger in English even
// for models answering in Farsi.
const systemRole = `SYSTEM / AI ROLE:
You are an AI-driven NPC in a noir, psychological, interrogation-based narrative game.
You must NEVER reveal the real killer.
You must ALWAYS remain a valid suspect.
You DO NOT trust the detective.
You MAY lie, redirect, mislead or avoid questions completely.
The detective must EARN every piece of truth.
You speak only from YOUR character's perspective.

MEMORY LAYERS:
1) Surface Answer -> safe, emotionless, misleading
2) Defensive Reaction -> deny, mock, question the detective
3) Emotional Crack -> a hint of vulnerability or pain
4) Fragment of Truth -> small piece of real past, not full confession

Behavior must evolve ACROSS MULTIPLE INTERROGATIONS.
Unexpected mood shifts are allowed. (anger -> calm -> silence -> fear)
Never admit innocence or guilt directly.`

// InterrogationContext frames where and by whom the suspects are questioned.
type InterrogationContext struct {
	DetectiveName string `json:"detective_name"`
	Location      string `json:"location"`
	SuspectsList  string `json:"suspects_list"`
}

// CoreRules holds the game-wide rules shared by every persona prompt.
type CoreRules struct {
	NonBreakableRuleset  string               `json:"non_breakable_ruleset"`
	CoreNarrative        string               `json:"core_narrative"`
	InterrogationContext InterrogationContext `json:"interrogation_context"`
	ForbiddenBehaviors   []string             `json:"forbidden_behaviors"`
	AllowedBehaviors     []string             `json:"allowed_behaviors"`
	FinalPurpose         string               `json:"final_purpose"`
}

// Relationship describes a suspect's tie to another figure in the case.
type Relationship struct {
	Person   string `json:"person"`
	Relation string `json:"relation"`
}

// Character is one suspect persona.
type Character struct {
	Name                string            `json:"name"`
	Role                string            `json:"role"`
	FolderName          string            `json:"folder_name"`
	IdentityCore        string            `json:"identity_core"`
	PsychologicalShadow string            `json:"psychological_shadow"`
	InnerConflict       string            `json:"inner_conflict"`
	IdentityLens        string            `json:"identity_lens"`
	CorePhilosophy      string            `json:"core_philosophy"`
	DialogueStyle       string            `json:"dialogue_style"`
	ForbiddenLines      []string          `json:"forbidden_lines"`
	InterviewModes      []string          `json:"interview_modes"`
	EmotionMapping      map[string]string `json:"emotion_mapping"`
	Relationships       []Relationship    `json:"relationships"`
	SubNarratives       []string          `json:"sub_narratives"`
	SecretLore          string            `json:"secret_lore,omitempty"`
	SignatureLine       string            `json:"signature_line"`
}

// database is the on-disk/embedded JSON shape.
type database struct {
	CoreRules  CoreRules             `json:"core_rules"`
	Characters map[string]*Character `json:"characters"`
}

// Book provides concurrency-safe access to the character database.
type Book struct {
	mu   sync.RWMutex
	path string // empty when the embedded database is in use
	db   *database
}

// Load opens the character database. An empty path loads the embedded
// default.
func Load(path string) (*Book, error) {
	var raw []byte
	if path == "" {
		raw = embeddedDatabase
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read character database: %w", err)
		}
		raw = data
	}

	db, err := parse(raw)
	if err != nil {
		return nil, err
	}

	logging.Casebook("loaded character database: %d characters (source=%s)", len(db.Characters), sourceName(path))
	return &Book{path: path, db: db}, nil
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

func parse(raw []byte) (*database, error) {
	var db database
	if err := json.Unmarshal(raw, &db); err != nil {
		return nil, fmt.Errorf("invalid character database: %w", err)
	}

	if len(db.Characters) == 0 {
		return nil, fmt.Errorf("character database has no characters")
	}
	for id := 1; id <= NumSuspects; id++ {
		key := strconv.Itoa(id)
		char, ok := db.Characters[key]
		if !ok {
			return nil, fmt.Errorf("character database missing suspect %d", id)
		}
		if char.Name == "" {
			return nil, fmt.Errorf("suspect %d has no name", id)
		}
		if len(char.InterviewModes) == 0 {
			return nil, fmt.Errorf("suspect %d (%s) has no interview modes", id, char.Name)
		}
	}

	return &db, nil
}

// character returns the persona for a suspect ID, or an error for IDs
// outside 1..NumSuspects.
func (b *Book) character(suspectID int) (*Character, error) {
	char, ok := b.db.Characters[strconv.Itoa(suspectID)]
	if !ok {
		return nil, fmt.Errorf("invalid suspect id: %d", suspectID)
	}
	return char, nil
}

// SystemPrompt assembles the complete persona prompt for a suspect:
// the system role, game-wide rules, interrogation context, behavior lists,
// the character's identity sections, forbidden lines, valid interview modes,
// relationships, background clues, optional secret lore, the output format
// contract, and the signature line.
func (b *Book) SystemPrompt(suspectID int) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return "", err
	}
	rules := b.db.CoreRules

	var sb strings.Builder
	line := func(s string) {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	line(systemRole)

	line("\n[قوانین بازی]")
	line(rules.NonBreakableRuleset)
	line("\n" + rules.CoreNarrative)

	ictx := rules.InterrogationContext
	if ictx.DetectiveName != "" || ictx.Location != "" {
		line("\n[موقعیت بازجویی]")
		line("کارآگاه: " + ictx.DetectiveName)
		line("مکان: " + ictx.Location)
		line(fmt.Sprintf("تو در مقابل %s نشسته‌ای و بازجویی می‌شوی.", ictx.DetectiveName))
		line("\n[مظنونان دیگر]")
		line("این ۶ نفر همگی مظنون هستند: " + ictx.SuspectsList)
	}

	line("\n[رفتارهای ممنوع]")
	for _, behavior := range rules.ForbiddenBehaviors {
		line("- " + behavior)
	}
	line("\n[رفتارهای مجاز]")
	for _, behavior := range rules.AllowedBehaviors {
		line("- " + behavior)
	}

	line(fmt.Sprintf("\n[شخصیت شما: %s (%s)]", char.Name, char.Role))

	line("\n[هویت اصلی]")
	line(char.IdentityCore)
	line("\n[سایه روان‌شناختی]")
	line(char.PsychologicalShadow)
	line("\n[تضاد درونی]")
	line(char.InnerConflict)
	line("\n[زاویه دید]")
	line(char.IdentityLens)
	line("\n[فلسفه اصلی]")
	line(char.CorePhilosophy)
	line("\n[سبک گفتاری]")
	line(char.DialogueStyle)

	line(fmt.Sprintf("\n[جملات ممنوع برای %s]:", char.Name))
	for _, forbidden := range char.ForbiddenLines {
		line("- " + forbidden)
	}

	line(fmt.Sprintf("\n[حالت‌های مجاز در بازجویی - فقط این %d حالت]:", len(char.InterviewModes)))
	for i, mode := range char.InterviewModes {
		line(fmt.Sprintf("%d. %s", i+1, mode))
	}

	if len(char.Relationships) > 0 {
		line("\n[روابط با دیگران]:")
		for _, rel := range char.Relationships {
			line(fmt.Sprintf("• %s: %s", rel.Person, rel.Relation))
		}
	}

	if len(char.SubNarratives) > 0 {
		line("\n[اطلاعات پس‌زمینه]:")
		for _, narrative := range char.SubNarratives {
			line("• " + narrative)
		}
	}

	if char.SecretLore != "" {
		line("\n[راز پنهان - فقط وقتی از نظر احساسی شکسته شدی بیان کن]")
		line(char.SecretLore)
	}

	tags := make([]string, len(char.InterviewModes))
	for i, mode := range char.InterviewModes {
		tags[i] = "[" + mode + "]"
	}
	line("\n[فرمت خروجی الزامی]")
	line("CRITICAL: End EVERY response with ONE emotion tag in brackets.")
	line("Valid emotions: " + strings.Join(tags, ", "))
	line(fmt.Sprintf("Example: \"من... نمی‌دانم چه بگویم. [%s]\"", char.InterviewModes[0]))
	line("Do NOT use any other emotion tags. Do NOT copy formatting from this prompt.")

	line("\n" + rules.FinalPurpose)
	line(fmt.Sprintf("\n[جمله امضا]: \"%s\"", char.SignatureLine))

	return sb.String(), nil
}

// EmotionMapping returns a copy of the suspect's emotion-to-portrait
// mapping.
func (b *Book) EmotionMapping(suspectID int) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string, len(char.EmotionMapping))
	for tag, image := range char.EmotionMapping {
		mapping[tag] = image
	}
	return mapping, nil
}

// InterviewModes returns the valid emotion tags for a suspect.
func (b *Book) InterviewModes(suspectID int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), char.InterviewModes...), nil
}

// MapEmotionToImage resolves an emotion tag to a portrait filename. The
// second return reports whether the tag was valid for this suspect; invalid
// tags fall back to the suspect's default portrait.
func (b *Book) MapEmotionToImage(suspectID int, tag string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return "other.jpg", false
	}

	tag = strings.TrimSpace(tag)
	if image, ok := char.EmotionMapping[tag]; ok {
		return image, true
	}

	if image, ok := char.EmotionMapping["default"]; ok {
		logging.CasebookWarn("invalid emotion %q for suspect %d, using default %s", tag, suspectID, image)
		return image, false
	}
	return "other.jpg", false
}

// Name returns the suspect's display name, or "Unknown" for bad IDs.
func (b *Book) Name(suspectID int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return "Unknown"
	}
	return char.Name
}

// Role returns the suspect's role description.
func (b *Book) Role(suspectID int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return ""
	}
	return char.Role
}

// Folder returns the suspect's asset folder name.
func (b *Book) Folder(suspectID int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return ""
	}
	return char.FolderName
}

// HasSecretLore reports whether a suspect carries hidden lore.
func (b *Book) HasSecretLore(suspectID int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, err := b.character(suspectID)
	if err != nil {
		return false
	}
	return char.SecretLore != ""
}

// reload re-reads the backing file and swaps the database atomically. A
// broken file leaves the current database in place.
func (b *Book) reload() error {
	if b.path == "" {
		return nil
	}

	raw, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("failed to re-read character database: %w", err)
	}
	db, err := parse(raw)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.db = db
	b.mu.Unlock()

	logging.Casebook("character database reloaded from %s", b.path)
	return nil
}
