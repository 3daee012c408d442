// Package game provides the interactive TUI for the detective game.
// Split across files in the usual way:
//   - model.go: Types, Init, Update loop (this file)
//   - commands.go: tea.Cmd constructors talking to the engine
//   - view.go: Rendering functions
package game

import (
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/Phaedra-DevGroup/bishopgame/cmd/detective/ui"
	"github.com/Phaedra-DevGroup/bishopgame/internal/casebook"
	"github.com/Phaedra-DevGroup/bishopgame/internal/config"
	"github.com/Phaedra-DevGroup/bishopgame/internal/engine"
	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
	"github.com/Phaedra-DevGroup/bishopgame/internal/state"
	"github.com/Phaedra-DevGroup/bishopgame/internal/store"
)

// Screen determines which view is active
type Screen int

const (
	ScreenMenu Screen = iota
	ScreenIntro  // streaming intro or load recap
	ScreenSelect // suspect selection
	ScreenChat   // interrogation
	ScreenNotebook
	ScreenAccuse
	ScreenEnd // win/lose
)

// menu entries
const (
	menuNewGame = iota
	menuContinue
	menuQuit
)

// chatLine is one rendered line of an interrogation.
type chatLine struct {
	role    string // "user", "assistant", "error"
	name    string // speaker display name
	text    string
	emotion string // assistant lines only
	image   string // portrait filename for the emotion
}

// Model is the main model for the game TUI.
type Model struct {
	cfg         *config.Config
	eng         *engine.Engine
	gs          *state.GameState
	book        *casebook.Book
	transcripts *store.TranscriptStore
	sessionID   string

	// UI components
	styles   ui.Styles
	renderer *glamour.TermRenderer
	textarea textarea.Model
	notebook textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	screen        Screen
	cursor        int
	suspectID     int
	histories     map[int][]chatLine
	streamBuf     string
	waiting       bool
	introBuf      string
	recapMode     bool // intro screen shows a load recap, not the opening
	confirmAccuse bool
	accuseTarget  int
	healthErr     error
	lastErr       error
	width         int
	height        int

	// Streaming events from engine goroutines
	events chan tea.Msg

	shutdownOnce *sync.Once
}

// Deps carries everything the TUI needs.
type Deps struct {
	Config      *config.Config
	Engine      *engine.Engine
	State       *state.GameState
	Book        *casebook.Book
	Transcripts *store.TranscriptStore
	SessionID   string
}

// New creates the game model.
func New(deps Deps) Model {
	styles := ui.DefaultStyles()

	ta := textarea.New()
	ta.Placeholder = "سوال خود را بنویسید..."
	ta.Prompt = "┃ "
	ta.CharLimit = 500
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	nb := textarea.New()
	nb.Placeholder = "یادداشت‌های کارآگاه..."
	nb.CharLimit = 4000
	nb.SetHeight(12)
	nb.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(78),
	)
	if err != nil {
		renderer = nil
		logging.UIDebug("glamour renderer unavailable: %v", err)
	}

	return Model{
		cfg:          deps.Config,
		eng:          deps.Engine,
		gs:           deps.State,
		book:         deps.Book,
		transcripts:  deps.Transcripts,
		sessionID:    deps.SessionID,
		styles:       styles,
		renderer:     renderer,
		textarea:     ta,
		notebook:     nb,
		viewport:     vp,
		spinner:      sp,
		screen:       ScreenMenu,
		histories:    make(map[int][]chatLine),
		events:       make(chan tea.Msg, 64),
		shutdownOnce: &sync.Once{},
	}
}

// Init starts the spinner, checks backend health, and arms the single
// stream-event listener. The listener re-arms itself on every tokenMsg, so
// exactly one reader is alive at any time.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textarea.Blink, m.checkHealth(), m.waitForEvent())
}

// Update is the main message loop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 10
		m.textarea.SetWidth(msg.Width - 4)
		m.notebook.SetWidth(msg.Width - 8)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case healthMsg:
		m.healthErr = msg.err
		return m, nil

	case tokenMsg:
		// Stale tokens from a finished generation are dropped
		if !m.waiting {
			return m, m.waitForEvent()
		}
		if m.screen == ScreenIntro {
			m.introBuf += msg.token
		} else {
			m.streamBuf += msg.token
			m.refreshChatViewport()
		}
		return m, m.waitForEvent()

	case introDoneMsg:
		return m.handleIntroDone(msg)

	case replyMsg:
		return m.handleReply(msg)

	case streamErrMsg:
		return m.handleStreamErr(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Global quit, except while typing in a text box
	if msg.Type == tea.KeyCtrlC {
		return m.shutdown()
	}

	switch m.screen {
	case ScreenMenu:
		return m.updateMenu(msg)
	case ScreenIntro:
		return m.updateIntro(msg)
	case ScreenSelect:
		return m.updateSelect(msg)
	case ScreenChat:
		return m.updateChat(msg)
	case ScreenNotebook:
		return m.updateNotebook(msg)
	case ScreenAccuse:
		return m.updateAccuse(msg)
	case ScreenEnd:
		return m.updateEnd(msg)
	}
	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < menuQuit {
			m.cursor++
		}
	case "enter":
		switch m.cursor {
		case menuNewGame:
			return m.startNewGame()
		case menuContinue:
			return m.continueGame()
		case menuQuit:
			return m.shutdown()
		}
	case "q":
		return m.shutdown()
	}
	return m, nil
}

func (m Model) startNewGame() (tea.Model, tea.Cmd) {
	m.gs.Reset()
	m.eng.ResetAll()
	m.histories = make(map[int][]chatLine)
	m.screen = ScreenIntro
	m.recapMode = false
	m.introBuf = ""
	m.waiting = true
	logging.UI("new game started")
	return m, tea.Batch(m.generateIntro(), m.spinner.Tick)
}

func (m Model) continueGame() (tea.Model, tea.Cmd) {
	loaded, err := m.gs.Load()
	if err != nil {
		m.lastErr = err
		return m, nil
	}
	if !loaded {
		// No save: fall through to a new game
		return m.startNewGame()
	}
	if m.gs.GameEnded {
		m.screen = ScreenEnd
		return m, nil
	}

	m.screen = ScreenIntro
	m.recapMode = true
	m.introBuf = ""
	m.waiting = true
	logging.UI("continuing saved game at day %d", m.gs.CurrentDay)
	return m, tea.Batch(m.generateRecap(), m.spinner.Tick)
}

func (m Model) updateIntro(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Once generation finished, any key moves on
	if !m.waiting {
		switch msg.String() {
		case "enter", " ", "esc":
			m.screen = ScreenSelect
			m.cursor = 0
			return m, nil
		}
	}
	return m, nil
}

func (m Model) updateSelect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < casebook.NumSuspects-1 {
			m.cursor++
		}
	case "1", "2", "3", "4", "5", "6":
		m.cursor = int(msg.String()[0] - '1')
		return m.openChat(m.cursor + 1)
	case "enter":
		return m.openChat(m.cursor + 1)
	case "n":
		return m.openNotebook()
	case "a":
		m.screen = ScreenAccuse
		m.cursor = 0
		m.confirmAccuse = false
		return m, nil
	case "e":
		m.gs.AdvanceDay()
		if err := m.gs.Save(); err != nil {
			m.lastErr = err
		}
		return m, nil
	case "q", "esc":
		if err := m.gs.Save(); err != nil {
			m.lastErr = err
		}
		m.screen = ScreenMenu
		m.cursor = 0
		return m, nil
	}
	return m, nil
}

func (m Model) openChat(suspectID int) (tea.Model, tea.Cmd) {
	m.suspectID = suspectID
	m.screen = ScreenChat
	m.textarea.Reset()
	m.textarea.Focus()
	m.refreshChatViewport()
	logging.UI("interrogation opened: suspect %d (%s)", suspectID, m.book.Name(suspectID))
	return m, textarea.Blink
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		if !m.waiting {
			m.screen = ScreenSelect
			m.cursor = m.suspectID - 1
			return m, nil
		}
		return m, nil

	case tea.KeyEnter:
		if m.waiting {
			return m, nil
		}
		question := strings.TrimSpace(m.textarea.Value())
		if question == "" {
			return m, nil
		}
		return m.submitQuestion(question)
	}

	// Scroll the transcript with pgup/pgdn, type into the textarea otherwise
	switch msg.String() {
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) submitQuestion(question string) (tea.Model, tea.Cmd) {
	m.histories[m.suspectID] = append(m.histories[m.suspectID], chatLine{
		role: "user",
		name: "کارآگاه",
		text: question,
	})
	m.textarea.Reset()
	m.streamBuf = ""
	m.waiting = true
	m.lastErr = nil
	m.refreshChatViewport()
	return m, tea.Batch(m.askSuspect(question), m.spinner.Tick)
}

func (m Model) handleReply(msg replyMsg) (tea.Model, tea.Cmd) {
	m.waiting = false
	m.streamBuf = ""
	m.drainEvents()

	m.histories[m.suspectID] = append(m.histories[m.suspectID], chatLine{
		role:    "assistant",
		name:    m.book.Name(m.suspectID),
		text:    msg.reply.Text,
		emotion: msg.reply.Emotion,
		image:   msg.reply.Image,
	})
	m.gs.SetEmotion(m.suspectID, msg.reply.Emotion)
	if err := m.gs.Save(); err != nil {
		m.lastErr = err
	}
	m.refreshChatViewport()
	return m, nil
}

func (m Model) handleStreamErr(msg streamErrMsg) (tea.Model, tea.Cmd) {
	m.waiting = false
	m.streamBuf = ""
	m.drainEvents()
	m.lastErr = msg.err

	m.histories[m.suspectID] = append(m.histories[m.suspectID], chatLine{
		role: "error",
		name: m.book.Name(m.suspectID),
		text: engine.NervousFallback(),
	})
	m.refreshChatViewport()
	return m, nil
}

func (m Model) handleIntroDone(msg introDoneMsg) (tea.Model, tea.Cmd) {
	m.waiting = false
	m.drainEvents()

	if msg.err != nil {
		m.lastErr = msg.err
		if m.introBuf == "" {
			m.introBuf = "(روایت در دسترس نیست)"
		}
		return m, nil
	}

	m.introBuf = msg.text
	if !m.recapMode {
		m.gs.CaseFilesText = msg.text
		m.gs.IntroShown = true
		if err := m.gs.Save(); err != nil {
			m.lastErr = err
		}
	}
	return m, nil
}

func (m Model) openNotebook() (tea.Model, tea.Cmd) {
	m.screen = ScreenNotebook
	m.notebook.SetValue(m.gs.CurrentPage().Content)
	m.notebook.Focus()
	return m, textarea.Blink
}

func (m Model) updateNotebook(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEsc {
		m.gs.UpdateCurrentPage(m.notebook.Value())
		if err := m.gs.Save(); err != nil {
			m.lastErr = err
		}
		m.notebook.Blur()
		if m.gs.GameEnded {
			m.screen = ScreenEnd
		} else {
			m.screen = ScreenSelect
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.notebook, cmd = m.notebook.Update(msg)
	return m, cmd
}

func (m Model) updateAccuse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmAccuse {
		switch msg.String() {
		case "y", "enter":
			return m.accuse(m.accuseTarget)
		case "n", "esc":
			m.confirmAccuse = false
			return m, nil
		}
		return m, nil
	}

	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < casebook.NumSuspects-1 {
			m.cursor++
		}
	case "1", "2", "3", "4", "5", "6":
		m.accuseTarget = int(msg.String()[0]-'1') + 1
		m.confirmAccuse = true
	case "enter":
		m.accuseTarget = m.cursor + 1
		m.confirmAccuse = true
	case "esc", "q":
		m.screen = ScreenSelect
		m.cursor = 0
	}
	return m, nil
}

func (m Model) accuse(suspectID int) (tea.Model, tea.Cmd) {
	won, err := m.gs.Accuse(suspectID)
	if err != nil {
		m.lastErr = err
		m.confirmAccuse = false
		return m, nil
	}

	if m.transcripts != nil && m.sessionID != "" {
		if err := m.transcripts.SetOutcome(m.sessionID, m.gs.WinState); err != nil {
			logging.UIDebug("outcome record failed: %v", err)
		}
	}

	logging.UI("accused suspect %d: won=%v", suspectID, won)
	m.screen = ScreenEnd
	m.confirmAccuse = false
	return m, nil
}

func (m Model) updateEnd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "n":
		return m.startNewGame()
	case "m":
		m.screen = ScreenMenu
		m.cursor = 0
		return m, nil
	case "b":
		return m.openNotebook()
	case "q", "esc":
		return m.shutdown()
	}
	return m, nil
}

// drainEvents discards buffered stream events from a finished generation so
// they cannot bleed into the next one.
func (m *Model) drainEvents() {
	for {
		select {
		case <-m.events:
		default:
			return
		}
	}
}

func (m Model) shutdown() (tea.Model, tea.Cmd) {
	m.shutdownOnce.Do(func() {
		if err := m.gs.Save(); err != nil {
			logging.UIDebug("save on exit failed: %v", err)
		}
		logging.UI("shutting down")
	})
	return m, tea.Quit
}
