package game

import (
	"fmt"
	"strings"

	"github.com/Phaedra-DevGroup/bishopgame/cmd/detective/ui"
	"github.com/Phaedra-DevGroup/bishopgame/internal/casebook"
	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
	"github.com/Phaedra-DevGroup/bishopgame/internal/state"
)

// View renders the active screen.
func (m Model) View() string {
	var body string
	switch m.screen {
	case ScreenMenu:
		body = m.viewMenu()
	case ScreenIntro:
		body = m.viewIntro()
	case ScreenSelect:
		body = m.viewSelect()
	case ScreenChat:
		body = m.viewChat()
	case ScreenNotebook:
		body = m.viewNotebook()
	case ScreenAccuse:
		body = m.viewAccuse()
	case ScreenEnd:
		body = m.viewEnd()
	}

	var b strings.Builder
	b.WriteString(body)
	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(m.styles.Error.Render("⚠ " + m.lastErr.Error()))
	}
	return b.String()
}

func (m Model) viewMenu() string {
	var b strings.Builder
	b.WriteString(ui.Logo(m.styles))
	b.WriteString("\n\n")

	if m.healthErr != nil {
		b.WriteString(m.styles.Warning.Render("⚠ backend unreachable: " + m.healthErr.Error()))
		b.WriteString("\n\n")
	}

	items := []string{"بازی جدید", "ادامه بازی", "خروج"}
	for i, item := range items {
		if i == m.cursor {
			b.WriteString(m.styles.MenuItemActive.Render("▸ " + item))
		} else {
			b.WriteString(m.styles.MenuItem.Render("  " + item))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("↑/↓ حرکت • enter انتخاب • q خروج"))
	return b.String()
}

func (m Model) viewIntro() string {
	var b strings.Builder
	if m.recapMode {
		b.WriteString(m.styles.Title.Render("گزارش پرونده"))
	} else {
		b.WriteString(m.styles.Title.Render("پرونده اسقف"))
	}
	b.WriteString("\n\n")

	if m.introBuf != "" {
		b.WriteString(m.safeRenderMarkdown(m.introBuf))
	}

	b.WriteString("\n")
	if m.waiting {
		b.WriteString(m.spinner.View() + m.styles.Muted.Render(" در حال نوشتن..."))
	} else {
		b.WriteString(m.styles.Footer.Render("enter ادامه"))
	}
	return b.String()
}

func (m Model) viewSelect() string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("مظنونین"))
	b.WriteString("  ")
	b.WriteString(m.styles.DayBadge.Render(dayLabel(m.gs)))
	b.WriteString("\n\n")

	for i := 0; i < casebook.NumSuspects; i++ {
		id := i + 1
		name := m.book.Name(id)
		role := m.book.Role(id)
		line := fmt.Sprintf("%d. %s", id, name)
		if i == m.cursor {
			b.WriteString(m.styles.MenuItemActive.Render("▸ " + line))
		} else {
			b.WriteString(m.styles.MenuItem.Render("  " + line))
		}
		b.WriteString(" ")
		b.WriteString(m.styles.SuspectRole.Render(role))
		b.WriteString(" ")
		b.WriteString(m.styles.EmotionBadge.Render(m.gs.EmotionFor(id)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("1-6/enter بازجویی • n دفترچه • e پایان روز • a متهم کردن • q منو"))
	return b.String()
}

func (m Model) viewChat() string {
	var b strings.Builder
	b.WriteString(m.styles.SuspectName.Render(m.book.Name(m.suspectID)))
	b.WriteString(" ")
	b.WriteString(m.styles.SuspectRole.Render(m.book.Role(m.suspectID)))
	b.WriteString("  ")
	b.WriteString(m.styles.DayBadge.Render(dayLabel(m.gs)))
	b.WriteString("\n")
	b.WriteString(m.styles.RenderDivider(max(20, m.width-4)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.styles.RenderDivider(max(20, m.width-4)))
	b.WriteString("\n")

	if m.waiting {
		b.WriteString(m.spinner.View() + m.styles.Muted.Render(" در حال فکر کردن..."))
	} else {
		b.WriteString(m.textarea.View())
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("enter پرسیدن • esc بازگشت • pgup/pgdn پیمایش"))
	return b.String()
}

// refreshChatViewport re-renders the transcript into the viewport and keeps
// it scrolled to the newest line.
func (m *Model) refreshChatViewport() {
	var b strings.Builder
	for _, line := range m.histories[m.suspectID] {
		switch line.role {
		case "user":
			b.WriteString(m.styles.DetectiveLine.Render(line.name + ": " + line.text))
		case "assistant":
			b.WriteString(m.styles.SuspectReply.Render(line.text))
			if line.emotion != "" {
				badge := line.emotion
				if line.image != "" {
					badge += " · " + line.image
				}
				b.WriteString("\n")
				b.WriteString(m.styles.EmotionBadge.Render(badge))
			}
		case "error":
			b.WriteString(m.styles.SuspectReply.Render(line.text))
		}
		b.WriteString("\n\n")
	}
	if m.streamBuf != "" {
		b.WriteString(m.styles.SuspectReply.Render(m.streamBuf))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m Model) viewNotebook() string {
	var b strings.Builder
	page := m.gs.CurrentPage()
	b.WriteString(m.styles.Title.Render("دفترچه کارآگاه"))
	b.WriteString("  ")
	b.WriteString(m.styles.DayBadge.Render(page.Label()))
	b.WriteString("\n\n")
	b.WriteString(m.styles.NotebookPage.Render(m.notebook.View()))
	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("esc ذخیره و بازگشت"))
	return b.String()
}

func (m Model) viewAccuse() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("متهم کردن"))
	b.WriteString("\n")
	b.WriteString(m.styles.Warning.Render("فقط یک فرصت دارید. انتخاب اشتباه یعنی شکست."))
	b.WriteString("\n\n")

	if m.confirmAccuse {
		b.WriteString(m.styles.Body.Render(fmt.Sprintf("آیا %s را به قتل متهم می‌کنید؟", m.book.Name(m.accuseTarget))))
		b.WriteString("\n\n")
		b.WriteString(m.styles.Footer.Render("y بله • n خیر"))
		return b.String()
	}

	for i := 0; i < casebook.NumSuspects; i++ {
		id := i + 1
		line := fmt.Sprintf("%d. %s — %s", id, m.book.Name(id), m.book.Role(id))
		if i == m.cursor {
			b.WriteString(m.styles.MenuItemActive.Render("▸ " + line))
		} else {
			b.WriteString(m.styles.MenuItem.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("↑/↓ حرکت • enter انتخاب • esc بازگشت"))
	return b.String()
}

func (m Model) viewEnd() string {
	var b strings.Builder
	if m.gs.WinState == "win" {
		b.WriteString(m.styles.WinBanner.Render("پرونده بسته شد — قاتل دستگیر شد"))
		b.WriteString("\n\n")
		b.WriteString(m.styles.Body.Render("خواهر مریم به قتل اسقف یوحنا اعتراف کرد. نامه‌های تهدیدآمیز و راز آتش‌سوزی قدیمی انگیزه او بود."))
	} else {
		b.WriteString(m.styles.LoseBanner.Render("پرونده مختومه — قاتل گریخت"))
		b.WriteString("\n\n")
		b.WriteString(m.styles.Body.Render("فرد بی‌گناهی بازداشت شد و قاتل واقعی برای همیشه ناپدید شد."))
	}
	b.WriteString("\n\n")
	b.WriteString(m.styles.Footer.Render("n بازی جدید • b دفترچه • m منو • q خروج"))
	return b.String()
}

// safeRenderMarkdown renders through glamour, falling back to plain text if
// the renderer is unavailable or panics on malformed input.
func (m Model) safeRenderMarkdown(text string) (out string) {
	if m.renderer == nil {
		return text
	}
	defer func() {
		if r := recover(); r != nil {
			logging.UIDebug("markdown render panic: %v", r)
			out = text
		}
	}()
	rendered, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return rendered
}

func dayLabel(gs *state.GameState) string {
	return "روز: " + gs.CurrentPage().Label()
}
