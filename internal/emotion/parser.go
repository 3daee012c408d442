// Package emotion extracts the trailing emotion tag from suspect replies.
//
// Suspects are instructed to end every reply with a bracketed Farsi emotion
// tag, e.g. `[ترسیده]`. Models do not always comply: the tag may be wrapped
// in quotes, buried mid-reply, misspelled, or missing entirely. The parser
// degrades gracefully through those cases and always produces a usable
// portrait for the UI.
package emotion

import (
	"regexp"
	"strings"

	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
)

// DefaultKey is the mapping key consulted when no valid tag is found.
const DefaultKey = "default"

// DefaultImage is the portrait of last resort when a mapping lacks even a
// default entry.
const DefaultImage = "other.jpg"

var (
	// Prompt-template separator junk that some models echo back verbatim.
	artifactPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\{'='\*\d+\}`),
		regexp.MustCompile(`\{["\x60]=["\x60]\*\d+\}`),
	}

	// A bracketed tag at the very end of the reply, optionally followed by
	// a stray closing quote.
	endTagRe = regexp.MustCompile(`\[([^\[\]]+)\]\s*["']?\s*$`)

	// Any bracketed tag, for replies where the model kept talking after
	// the tag. The last occurrence wins.
	anyTagRe = regexp.MustCompile(`\[([^\[\]]+)\]`)
)

// Result is the outcome of parsing one suspect reply.
type Result struct {
	Text    string // reply with artifacts and the matched tag removed
	Emotion string // matched mapping key, or DefaultKey
	Image   string // portrait filename resolved from the mapping
}

// Parse extracts the emotion tag from reply and resolves it against the
// suspect's emotion mapping (tag -> portrait filename). The matched tag is
// always removed from the text, even mid-reply and even when it is not a
// known emotion; unknown or missing tags resolve to the mapping's default
// entry.
func Parse(reply string, mapping map[string]string) Result {
	text := stripArtifacts(reply)

	tag, loc := findTag(text)
	if tag != "" {
		text = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
		if image, ok := mapping[tag]; ok {
			logging.EmotionDebug("tag matched: %q -> %s", tag, image)
			return Result{Text: text, Emotion: tag, Image: image}
		}
		logging.EmotionDebug("tag %q not in mapping, falling back to default", tag)
	}

	image, ok := mapping[DefaultKey]
	if !ok {
		image = DefaultImage
	}
	return Result{Text: text, Emotion: DefaultKey, Image: image}
}

// findTag returns the candidate tag and the byte range it occupies in text.
// End-anchored tags take priority; otherwise the last tag anywhere in the
// reply is used.
func findTag(text string) (string, [2]int) {
	if m := endTagRe.FindStringSubmatchIndex(text); m != nil {
		return strings.TrimSpace(text[m[2]:m[3]]), [2]int{m[0], m[1]}
	}

	all := anyTagRe.FindAllStringSubmatchIndex(text, -1)
	if n := len(all); n > 0 {
		m := all[n-1]
		return strings.TrimSpace(text[m[2]:m[3]]), [2]int{m[0], m[1]}
	}

	return "", [2]int{}
}

// stripArtifacts removes echoed prompt-template separators and trims the
// result.
func stripArtifacts(reply string) string {
	for _, re := range artifactPatterns {
		reply = re.ReplaceAllString(reply, "")
	}
	return strings.TrimSpace(reply)
}
