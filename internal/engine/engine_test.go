package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/Phaedra-DevGroup/bishopgame/internal/casebook"
	"github.com/Phaedra-DevGroup/bishopgame/internal/llm"
	"github.com/Phaedra-DevGroup/bishopgame/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient scripts backend replies and captures what the engine sent.
type fakeClient struct {
	reply      string
	err        error
	lastSystem string
	lastHist   []llm.Message
	calls      int
}

func (f *fakeClient) Chat(ctx context.Context, system string, history []llm.Message) (string, error) {
	return f.ChatStream(ctx, system, history, nil)
}

func (f *fakeClient) ChatStream(ctx context.Context, system string, history []llm.Message, onToken func(string)) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastHist = append([]llm.Message(nil), history...)
	if f.err != nil {
		return "", f.err
	}
	if onToken != nil {
		for _, token := range strings.SplitAfter(f.reply, " ") {
			onToken(token)
		}
	}
	return f.reply, nil
}

func (f *fakeClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.CompleteStream(ctx, prompt, maxTokens, nil)
}

func (f *fakeClient) CompleteStream(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error) {
	f.calls++
	f.lastSystem = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeClient) Health(ctx context.Context) error { return f.err }
func (f *fakeClient) Model() string                    { return "fake" }
func (f *fakeClient) SetModel(string)                  {}

func newTestEngine(t *testing.T, client llm.Client, opts Options) *Engine {
	t.Helper()
	book, err := casebook.Load("")
	if err != nil {
		t.Fatalf("casebook: %v", err)
	}
	return New(client, book, opts)
}

func validTag(t *testing.T, book *casebook.Book, suspectID int) string {
	t.Helper()
	modes, err := book.InterviewModes(suspectID)
	if err != nil || len(modes) == 0 {
		t.Fatalf("no interview modes for suspect %d", suspectID)
	}
	return modes[0]
}

func TestInterrogateParsesEmotion(t *testing.T) {
	client := &fakeClient{}
	eng := newTestEngine(t, client, Options{})
	tag := validTag(t, eng.Book(), 1)
	client.reply = "من چیزی ندیدم. [" + tag + "]"

	reply, err := eng.Interrogate(context.Background(), 1, 1, "آن شب کجا بودی؟")
	if err != nil {
		t.Fatalf("Interrogate: %v", err)
	}
	if reply.Emotion != tag {
		t.Errorf("emotion = %q, want %q", reply.Emotion, tag)
	}
	if strings.Contains(reply.Text, "["+tag+"]") {
		t.Errorf("tag not stripped: %q", reply.Text)
	}
	if reply.Image == "" {
		t.Error("no portrait resolved")
	}
}

func TestInterrogateSendsPersonaPrompt(t *testing.T) {
	client := &fakeClient{reply: "..."}
	eng := newTestEngine(t, client, Options{})

	if _, err := eng.Interrogate(context.Background(), 3, 1, "سلام"); err != nil {
		t.Fatalf("Interrogate: %v", err)
	}
	if !strings.Contains(client.lastSystem, eng.Book().Name(3)) {
		t.Error("system prompt does not carry the suspect persona")
	}
	if len(client.lastHist) != 1 || client.lastHist[0].Content != "سلام" {
		t.Errorf("history sent = %+v", client.lastHist)
	}
}

func TestHistoryKeepsRawReply(t *testing.T) {
	client := &fakeClient{}
	eng := newTestEngine(t, client, Options{})
	tag := validTag(t, eng.Book(), 1)
	client.reply = "جواب من. [" + tag + "]"

	if _, err := eng.Interrogate(context.Background(), 1, 1, "سوال"); err != nil {
		t.Fatalf("Interrogate: %v", err)
	}

	hist := eng.History(1)
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	// The tag stays in history so the model keeps seeing the format
	if !strings.Contains(hist[1].Content, "["+tag+"]") {
		t.Errorf("assistant history lost the emotion tag: %q", hist[1].Content)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	client := &fakeClient{reply: "باشه"}
	eng := newTestEngine(t, client, Options{HistoryLimit: 6})

	for i := 0; i < 10; i++ {
		q := fmt.Sprintf("سوال %d", i)
		if _, err := eng.Interrogate(context.Background(), 2, 1, q); err != nil {
			t.Fatalf("Interrogate: %v", err)
		}
	}

	hist := eng.History(2)
	if len(hist) != 6 {
		t.Fatalf("history length = %d, want 6", len(hist))
	}
	// Oldest turns age out, newest stay
	if hist[0].Content != "سوال 7" {
		t.Errorf("oldest surviving turn = %q, want the trim to drop early turns", hist[0].Content)
	}
	if hist[len(hist)-2].Content != "سوال 9" {
		t.Errorf("latest question missing: %+v", hist)
	}
}

func TestHistoriesAreIndependent(t *testing.T) {
	client := &fakeClient{reply: "..."}
	eng := newTestEngine(t, client, Options{})

	if _, err := eng.Interrogate(context.Background(), 1, 1, "اول"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Interrogate(context.Background(), 2, 1, "دوم"); err != nil {
		t.Fatal(err)
	}

	if len(eng.History(1)) != 2 || len(eng.History(2)) != 2 {
		t.Error("conversations bleed between suspects")
	}

	eng.Reset(1)
	if len(eng.History(1)) != 0 {
		t.Error("Reset left history behind")
	}
	if len(eng.History(2)) != 2 {
		t.Error("Reset cleared the wrong suspect")
	}

	eng.ResetAll()
	if len(eng.History(2)) != 0 {
		t.Error("ResetAll left history behind")
	}
}

func TestInterrogateBackendFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	eng := newTestEngine(t, client, Options{})

	_, err := eng.Interrogate(context.Background(), 1, 1, "سوال")
	if err == nil {
		t.Fatal("backend failure must surface")
	}
	if len(eng.History(1)) != 0 {
		t.Error("failed turn must not enter history")
	}
	if NervousFallback() == "" {
		t.Error("no fallback line for the UI")
	}
}

func TestInterrogateInvalidSuspect(t *testing.T) {
	client := &fakeClient{reply: "..."}
	eng := newTestEngine(t, client, Options{})

	if _, err := eng.Interrogate(context.Background(), 0, 1, "سوال"); err == nil {
		t.Error("suspect 0 should be rejected")
	}
	if _, err := eng.Interrogate(context.Background(), 7, 1, "سوال"); err == nil {
		t.Error("suspect 7 should be rejected")
	}
	if client.calls != 0 {
		t.Error("invalid suspects must not reach the backend")
	}
}

func TestStreamTokensArrive(t *testing.T) {
	client := &fakeClient{reply: "یک دو سه"}
	eng := newTestEngine(t, client, Options{})

	var streamed strings.Builder
	_, err := eng.InterrogateStream(context.Background(), 1, 1, "بشمار", func(token string) {
		streamed.WriteString(token)
	})
	if err != nil {
		t.Fatalf("InterrogateStream: %v", err)
	}
	if streamed.String() != "یک دو سه" {
		t.Errorf("streamed %q", streamed.String())
	}
}

func TestGenerateIntro(t *testing.T) {
	client := &fakeClient{reply: "شب طوفانی بود و کلیسا در سکوت فرو رفته بود."}
	eng := newTestEngine(t, client, Options{})

	text, err := eng.GenerateIntro(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateIntro: %v", err)
	}
	if text != client.reply {
		t.Errorf("intro = %q", text)
	}
	if !strings.Contains(client.lastSystem, "اسقف یوحنا") {
		t.Error("intro prompt does not describe the case")
	}
}

func TestGenerateLoadRecapMentionsDay(t *testing.T) {
	client := &fakeClient{reply: "خبر"}
	eng := newTestEngine(t, client, Options{})

	if _, err := eng.GenerateLoadRecap(context.Background(), 4, nil); err != nil {
		t.Fatalf("GenerateLoadRecap: %v", err)
	}
	if !strings.Contains(client.lastSystem, "روز 4") {
		t.Error("recap prompt does not carry the current day")
	}
}

func TestTranscriptsRecorded(t *testing.T) {
	ts, err := store.NewTranscriptStore(filepath.Join(t.TempDir(), "transcripts.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer ts.Close()
	sessionID, err := ts.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	client := &fakeClient{}
	eng := newTestEngine(t, client, Options{Transcripts: ts, SessionID: sessionID})
	tag := validTag(t, eng.Book(), 4)
	client.reply = "پول من حلال است. [" + tag + "]"

	if _, err := eng.Interrogate(context.Background(), 4, 2, "حساب‌ها؟"); err != nil {
		t.Fatalf("Interrogate: %v", err)
	}

	turns, err := ts.Turns(sessionID, 4)
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "حساب‌ها؟" || turns[0].Day != 2 {
		t.Errorf("user turn = %+v", turns[0])
	}
	if turns[1].Role != "assistant" || turns[1].Emotion != tag {
		t.Errorf("assistant turn = %+v", turns[1])
	}
	// The stored answer is the cleaned text, not the raw tagged reply
	if strings.Contains(turns[1].Content, "["+tag+"]") {
		t.Errorf("transcript kept the raw tag: %q", turns[1].Content)
	}
}
