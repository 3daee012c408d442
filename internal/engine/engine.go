// Package engine drives suspect interrogations: it binds persona prompts
// from the casebook to an LLM backend, keeps bounded per-suspect chat
// histories, parses emotion tags out of replies, and records transcripts.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Phaedra-DevGroup/bishopgame/internal/casebook"
	"github.com/Phaedra-DevGroup/bishopgame/internal/emotion"
	"github.com/Phaedra-DevGroup/bishopgame/internal/llm"
	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
	"github.com/Phaedra-DevGroup/bishopgame/internal/store"
)

// Token budgets for the narrative generations. These double as model
// warm-ups: the first generation after boot pays the model load cost, so
// it is spent on narration rather than the first interrogation answer.
const (
	introMaxTokens = 400
	recapMaxTokens = 300
)

// nervousFallback is shown in place of a suspect reply when the backend
// fails outright.
const nervousFallback = "*شخصیت عصبی به نظر می‌رسد* من... من... الان نمی‌توانم جواب بدهم."

// Options configures an Engine.
type Options struct {
	HistoryLimit  int           // messages kept per suspect (system prompt excluded)
	WarmupTimeout time.Duration // deadline for intro/recap generations
	DataDir       string        // debug prompt dumps land here
	Transcripts   *store.TranscriptStore // optional
	SessionID     string
}

// Reply is one parsed suspect answer.
type Reply struct {
	Text    string // answer with the emotion tag stripped
	Emotion string // matched emotion key, or "default"
	Image   string // portrait filename for the emotion
}

// Engine orchestrates interrogations against a single LLM backend.
type Engine struct {
	client llm.Client
	book   *casebook.Book
	opts   Options

	mu            sync.Mutex
	conversations map[int][]llm.Message
}

// New creates an interrogation engine.
func New(client llm.Client, book *casebook.Book, opts Options) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.WarmupTimeout <= 0 {
		opts.WarmupTimeout = 3 * time.Minute
	}
	return &Engine{
		client:        client,
		book:          book,
		opts:          opts,
		conversations: make(map[int][]llm.Message),
	}
}

// Interrogate asks a suspect one question and returns the parsed reply.
func (e *Engine) Interrogate(ctx context.Context, suspectID, day int, question string) (Reply, error) {
	return e.InterrogateStream(ctx, suspectID, day, question, nil)
}

// InterrogateStream asks a suspect one question, delivering raw tokens to
// onToken as they arrive (onToken may be nil). Streamed tokens still carry
// the trailing emotion tag; the returned Reply has it stripped, so callers
// that stream should re-render from Reply.Text once it returns.
//
// The system prompt is rebuilt from the casebook on every call, so casebook
// hot reloads take effect mid-conversation. It never enters the bounded
// history and so never ages out.
func (e *Engine) InterrogateStream(ctx context.Context, suspectID, day int, question string, onToken func(string)) (Reply, error) {
	system, err := e.book.SystemPrompt(suspectID)
	if err != nil {
		return Reply{}, err
	}

	timer := logging.StartTimer(logging.CategoryEngine, fmt.Sprintf("interrogate suspect %d", suspectID))
	defer timer.StopWithThreshold(30 * time.Second)

	e.mu.Lock()
	history := append([]llm.Message(nil), e.conversations[suspectID]...)
	e.mu.Unlock()

	history = append(history, llm.Message{Role: "user", Content: question})

	e.dumpPrompt(suspectID, system, len(history))

	raw, err := e.client.ChatStream(ctx, system, history, onToken)
	if err != nil {
		logging.EngineError("suspect %d reply failed: %v", suspectID, err)
		return Reply{}, fmt.Errorf("suspect %d did not answer: %w", suspectID, err)
	}

	mapping, err := e.book.EmotionMapping(suspectID)
	if err != nil {
		return Reply{}, err
	}
	parsed := emotion.Parse(raw, mapping)

	// The raw reply (tag included) goes into history so the model keeps
	// seeing its own format compliance.
	e.mu.Lock()
	conv := append(e.conversations[suspectID],
		llm.Message{Role: "user", Content: question},
		llm.Message{Role: "assistant", Content: raw},
	)
	if len(conv) > e.opts.HistoryLimit {
		conv = conv[len(conv)-e.opts.HistoryLimit:]
	}
	e.conversations[suspectID] = conv
	e.mu.Unlock()

	e.record(suspectID, day, "user", question, "")
	e.record(suspectID, day, "assistant", parsed.Text, parsed.Emotion)

	logging.Engine("suspect %d answered: emotion=%s len=%d", suspectID, parsed.Emotion, len(parsed.Text))
	return Reply{Text: parsed.Text, Emotion: parsed.Emotion, Image: parsed.Image}, nil
}

// introPrompt asks for the opening narration of the case. Generating it is
// also the model warm-up on a fresh boot.
const introPrompt = `تو یک نویسنده داستان جنایی هستی. یک مقدمه کوتاه و جذاب برای یک بازی کارآگاهی بنویس.

داستان:
- اسقف یوحنا، رهبر کلیسای دهکده سنگی، شب گذشته در محراب با ضربه شمعدان برنزی به قتل رسیده است
- در آن شب طوفانی فقط شش نفر در محوطه کلیسا بودند
- هر شش نفر چیزی برای پنهان کردن دارند
- کارآگاه آریا باید با بازجویی از آنها قاتل را پیدا کند

مظنونان:
۱. داوود - خادم پیر کلیسا که کلید همه درها نزد اوست
۲. خواهر مریم - راهبه‌ای با گذشته‌ای مبهم
۳. دکتر بهرام - پزشک خوش‌مشرب دهکده و پزشک شخصی اسقف
۴. اردشیر - تاجر ثروتمند و حامی مالی کلیسا
۵. سهراب - باغبان تندخویی که از اسقف متنفر بود
۶. لیلا - خواننده جوان گروه کر

دستورالعمل:
- ۳ یا ۴ پاراگراف کوتاه بنویس
- لحن مرموز و جذاب باشد
- از دید سوم شخص بنویس
- فقط متن داستان را بنویس، بدون عنوان یا توضیح اضافی
- به فارسی بنویس`

// GenerateIntro produces the opening narration for a new game.
func (e *Engine) GenerateIntro(ctx context.Context, onToken func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.WarmupTimeout)
	defer cancel()

	logging.Engine("generating story intro (model warm-up)")
	text, err := e.client.CompleteStream(ctx, introPrompt, introMaxTokens, onToken)
	if err != nil {
		return "", fmt.Errorf("failed to generate intro: %w", err)
	}
	return text, nil
}

// GenerateLoadRecap produces a short in-world news update when a saved game
// resumes, doubling as the model warm-up.
func (e *Engine) GenerateLoadRecap(ctx context.Context, day int, onToken func(string)) (string, error) {
	recapPrompt := fmt.Sprintf(`تو یک روزنامه‌نگار هستی. یک خبر کوتاه درباره روز %d تحقیقات پرونده قتل بنویس.

پرونده:
- اسقف یوحنا، رهبر کلیسای دهکده سنگی، در محراب با ضربه شمعدان برنزی به قتل رسیده است
- شش نفر از اهالی محوطه کلیسا مظنون هستند
- کارآگاه آریا در حال بازجویی از آنهاست

مظنونان: خادم، راهبه، پزشک، تاجر، باغبان، و خواننده گروه کر

دستورالعمل:
- ۲ پاراگراف کوتاه بنویس
- شامل شایعات و حدس‌های مردم درباره قاتل باشد
- لحن خبری و مرموز باشد
- اشاره کن که این روز %d تحقیقات است
- فقط متن خبر را بنویس، به فارسی`, day, day)

	ctx, cancel := context.WithTimeout(ctx, e.opts.WarmupTimeout)
	defer cancel()

	logging.Engine("generating load recap for day %d (model warm-up)", day)
	text, err := e.client.CompleteStream(ctx, recapPrompt, recapMaxTokens, onToken)
	if err != nil {
		return "", fmt.Errorf("failed to generate load recap: %w", err)
	}
	return text, nil
}

// History returns a copy of a suspect's bounded conversation.
func (e *Engine) History(suspectID int) []llm.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]llm.Message(nil), e.conversations[suspectID]...)
}

// Reset clears one suspect's conversation.
func (e *Engine) Reset(suspectID int) {
	e.mu.Lock()
	delete(e.conversations, suspectID)
	e.mu.Unlock()
	logging.Engine("reset conversation for suspect %d", suspectID)
}

// ResetAll clears every suspect's conversation.
func (e *Engine) ResetAll() {
	e.mu.Lock()
	e.conversations = make(map[int][]llm.Message)
	e.mu.Unlock()
	logging.Engine("reset all conversations")
}

// Health reports whether the backend is reachable.
func (e *Engine) Health(ctx context.Context) error {
	return e.client.Health(ctx)
}

// Book returns the casebook backing this engine.
func (e *Engine) Book() *casebook.Book {
	return e.book
}

// NervousFallback is the line shown instead of a suspect reply when the
// backend fails. The error itself goes to the logs, not the player.
func NervousFallback() string {
	return nervousFallback
}

// record appends a turn to the transcript store, if one is attached.
// Transcript failures never interrupt play.
func (e *Engine) record(suspectID, day int, role, content, emotionKey string) {
	if e.opts.Transcripts == nil || e.opts.SessionID == "" {
		return
	}
	if err := e.opts.Transcripts.RecordTurn(e.opts.SessionID, suspectID, day, role, content, emotionKey); err != nil {
		logging.EngineError("transcript record failed: %v", err)
	}
}

// dumpPrompt writes the assembled system prompt to the data dir in debug
// mode, for verifying persona assembly against a live model.
func (e *Engine) dumpPrompt(suspectID int, system string, historyLen int) {
	if !logging.IsDebugMode() || e.opts.DataDir == "" {
		return
	}
	path := filepath.Join(e.opts.DataDir, fmt.Sprintf("debug_prompt_suspect_%d.txt", suspectID))
	content := fmt.Sprintf("=== SYSTEM PROMPT FOR SUSPECT %d ===\nLength: %d characters\nHistory: %d messages\n\n%s\n",
		suspectID, len(system), historyLen, system)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		logging.EngineDebug("prompt dump failed: %v", err)
	}
}
