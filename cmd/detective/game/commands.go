package game

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Phaedra-DevGroup/bishopgame/internal/engine"
)

// Messages produced by engine goroutines.
type (
	tokenMsg     struct{ token string }
	replyMsg     struct{ reply engine.Reply }
	introDoneMsg struct {
		text string
		err  error
	}
	streamErrMsg struct{ err error }
	healthMsg    struct{ err error }
)

// waitForEvent delivers the next stream event to the update loop. The
// update loop re-arms it on every delivery, keeping a single reader alive
// for the life of the program.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m Model) checkHealth() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GetHealthTimeout())
		defer cancel()
		return healthMsg{err: m.eng.Health(ctx)}
	}
}

// askSuspect runs one interrogation turn. Tokens arrive on the events
// channel while the final parsed reply returns as the command's message.
func (m Model) askSuspect(question string) tea.Cmd {
	suspectID := m.suspectID
	day := m.gs.CurrentDay
	return func() tea.Msg {
		reply, err := m.eng.InterrogateStream(context.Background(), suspectID, day, question, func(token string) {
			m.events <- tokenMsg{token: token}
		})
		if err != nil {
			return streamErrMsg{err: err}
		}
		return replyMsg{reply: reply}
	}
}

func (m Model) generateIntro() tea.Cmd {
	return func() tea.Msg {
		text, err := m.eng.GenerateIntro(context.Background(), func(token string) {
			m.events <- tokenMsg{token: token}
		})
		return introDoneMsg{text: text, err: err}
	}
}

func (m Model) generateRecap() tea.Cmd {
	day := m.gs.CurrentDay
	return func() tea.Msg {
		text, err := m.eng.GenerateLoadRecap(context.Background(), day, func(token string) {
			m.events <- tokenMsg{token: token}
		})
		return introDoneMsg{text: text, err: err}
	}
}
