// Package state tracks game progress: day counter, detective notebook,
// portrait emotions, and the win/lose outcome. State persists as a JSON
// save file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Phaedra-DevGroup/bishopgame/internal/casebook"
	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
)

// MurdererID is the suspect who actually killed the bishop. Accusing anyone
// else loses the game.
const MurdererID = 2

// FinalDay marks the closing notes page created after the accusation.
const FinalDay = -1

// Page is one page of the detective's notebook.
type Page struct {
	Day     int    `json:"day"` // FinalDay for the closing notes page
	Content string `json:"content"`
}

// Label returns the page's display label.
func (p Page) Label() string {
	if p.Day == FinalDay {
		return "Final"
	}
	return fmt.Sprintf("روز %d", p.Day)
}

// GameState is the persistent game progress. Not safe for concurrent use;
// the UI owns it and mutates it from its update loop only.
type GameState struct {
	CurrentDay    int            `json:"current_day"` // FinalDay after accusation
	NotebookPages []Page         `json:"notebook_pages"`
	GameEnded     bool           `json:"game_ended"`
	WinState      string         `json:"win_state"` // "win" or "lose" once ended
	IntroShown    bool           `json:"intro_shown"`
	CaseFilesText string         `json:"case_files_text"` // generated intro, shown in the case files
	Emotions      map[int]string `json:"emotions"`        // current portrait emotion key per suspect

	savePath string
}

// defaultEmotions are the resting portrait emotions per suspect persona.
var defaultEmotions = map[int]string{
	1: "scared",
	2: "other",
	3: "happy",
	4: "other",
	5: "angry",
	6: "scared",
}

// DefaultEmotion returns the resting portrait emotion for a suspect.
func DefaultEmotion(suspectID int) string {
	if emotion, ok := defaultEmotions[suspectID]; ok {
		return emotion
	}
	return "other"
}

// New creates a fresh game state persisting to savePath.
func New(savePath string) *GameState {
	gs := &GameState{savePath: savePath}
	gs.Reset()
	return gs
}

// Reset returns the state to day one with an empty notebook.
func (gs *GameState) Reset() {
	gs.CurrentDay = 1
	gs.NotebookPages = []Page{{Day: 1}}
	gs.GameEnded = false
	gs.WinState = ""
	gs.IntroShown = false
	gs.CaseFilesText = ""
	gs.Emotions = make(map[int]string)
	for id := range defaultEmotions {
		gs.Emotions[id] = defaultEmotions[id]
	}
}

// AdvanceDay moves to the next day and opens a blank notebook page for it.
func (gs *GameState) AdvanceDay() int {
	gs.CurrentDay++
	gs.NotebookPages = append(gs.NotebookPages, Page{Day: gs.CurrentDay})
	logging.State("advanced to day %d", gs.CurrentDay)
	return gs.CurrentDay
}

// CurrentPage returns a pointer to the page for the current day. After the
// accusation this is the final notes page.
func (gs *GameState) CurrentPage() *Page {
	for i := range gs.NotebookPages {
		if gs.NotebookPages[i].Day == gs.CurrentDay || gs.NotebookPages[i].Day == FinalDay {
			return &gs.NotebookPages[i]
		}
	}
	// Should not happen; repair rather than crash.
	gs.NotebookPages = append(gs.NotebookPages, Page{Day: gs.CurrentDay})
	return &gs.NotebookPages[len(gs.NotebookPages)-1]
}

// UpdateCurrentPage replaces the current page's content.
func (gs *GameState) UpdateCurrentPage(content string) {
	gs.CurrentPage().Content = content
}

// CreateFinalPage opens the closing notes page after the accusation.
// Idempotent.
func (gs *GameState) CreateFinalPage() {
	for _, page := range gs.NotebookPages {
		if page.Day == FinalDay {
			gs.CurrentDay = FinalDay
			return
		}
	}
	gs.NotebookPages = append(gs.NotebookPages, Page{Day: FinalDay})
	gs.CurrentDay = FinalDay
}

// PageByIndex returns the notebook page at index, or an empty day-one page
// for out-of-range indexes.
func (gs *GameState) PageByIndex(index int) Page {
	if index >= 0 && index < len(gs.NotebookPages) {
		return gs.NotebookPages[index]
	}
	return Page{Day: 1}
}

// TotalPages returns the number of notebook pages.
func (gs *GameState) TotalPages() int {
	return len(gs.NotebookPages)
}

// SetEmotion records the portrait emotion currently shown for a suspect.
func (gs *GameState) SetEmotion(suspectID int, emotion string) {
	gs.Emotions[suspectID] = emotion
}

// EmotionFor returns the portrait emotion for a suspect, falling back to
// the persona default.
func (gs *GameState) EmotionFor(suspectID int) string {
	if emotion, ok := gs.Emotions[suspectID]; ok && emotion != "" {
		return emotion
	}
	return DefaultEmotion(suspectID)
}

// Accuse ends the game: accusing the murderer wins, anyone else loses.
// The outcome is recorded, the final notes page opens, and the state saves.
func (gs *GameState) Accuse(suspectID int) (bool, error) {
	if suspectID < 1 || suspectID > casebook.NumSuspects {
		return false, fmt.Errorf("invalid suspect id: %d", suspectID)
	}
	if gs.GameEnded {
		return false, fmt.Errorf("game already ended with outcome %q", gs.WinState)
	}

	won := suspectID == MurdererID
	if won {
		gs.WinState = "win"
	} else {
		gs.WinState = "lose"
	}
	gs.GameEnded = true
	gs.CreateFinalPage()

	logging.State("accusation: suspect %d, outcome %s", suspectID, gs.WinState)

	if err := gs.Save(); err != nil {
		return won, err
	}
	return won, nil
}

// Save writes the state to the save file.
func (gs *GameState) Save() error {
	data, err := json.MarshalIndent(gs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal game state: %w", err)
	}

	if dir := filepath.Dir(gs.savePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create save directory: %w", err)
		}
	}

	if err := os.WriteFile(gs.savePath, data, 0644); err != nil {
		logging.StateError("save failed: %v", err)
		return fmt.Errorf("failed to write save file: %w", err)
	}
	return nil
}

// Load reads the save file. It returns false with a nil error when no save
// exists. A corrupted save returns an error and leaves the state untouched.
func (gs *GameState) Load() (bool, error) {
	data, err := os.ReadFile(gs.savePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read save file: %w", err)
	}

	var loaded GameState
	if err := json.Unmarshal(data, &loaded); err != nil {
		logging.StateError("corrupted save file: %v", err)
		return false, fmt.Errorf("corrupted save file: %w", err)
	}

	loaded.savePath = gs.savePath
	if loaded.Emotions == nil {
		loaded.Emotions = make(map[int]string)
	}
	if len(loaded.NotebookPages) == 0 {
		loaded.NotebookPages = []Page{{Day: 1}}
	}
	*gs = loaded

	logging.State("loaded save: day=%d ended=%v", gs.CurrentDay, gs.GameEnded)
	return true, nil
}

// Delete removes the save file. Missing files are not an error.
func (gs *GameState) Delete() error {
	if err := os.Remove(gs.savePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete save file: %w", err)
	}
	return nil
}

// SavePath returns the path of the save file.
func (gs *GameState) SavePath() string {
	return gs.savePath
}
