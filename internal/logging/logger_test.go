package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLogging(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		CloseAll()
		configMu.Lock()
		debugMode = false
		logLevel = LevelInfo
		configMu.Unlock()
		logsDir = ""
	})
}

func TestInitializeProductionIsSilent(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()

	if err := Initialize(dir, false, "info"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if IsDebugMode() {
		t.Error("debug mode on in production")
	}

	Engine("this should go nowhere")
	LLMError("and so should this")

	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Error("production mode created a logs directory")
	}
}

func TestInitializeDebugWritesCategoryFiles(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()

	if err := Initialize(dir, true, "debug"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("debug mode off")
	}

	Engine("suspect %d answered", 3)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("logs dir: %v", err)
	}

	var engineLog string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), "_engine.log") {
			engineLog = filepath.Join(dir, "logs", entry.Name())
		}
	}
	if engineLog == "" {
		t.Fatalf("no engine log among %v", entries)
	}

	data, err := os.ReadFile(engineLog)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "suspect 3 answered") {
		t.Errorf("engine log missing entry: %s", data)
	}
}

func TestLevelFiltering(t *testing.T) {
	resetLogging(t)
	dir := t.TempDir()

	if err := Initialize(dir, true, "error"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	LLMDebug("debug line")
	LLM("info line")
	LLMError("error line")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), "_llm.log") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, "logs", entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "debug line") || strings.Contains(string(data), "info line") {
			t.Errorf("level filter leaked: %s", data)
		}
		if !strings.Contains(string(data), "error line") {
			t.Errorf("error line missing: %s", data)
		}
	}
}

func TestInitializeRequiresDataDir(t *testing.T) {
	resetLogging(t)
	if err := Initialize("", true, "info"); err == nil {
		t.Error("empty data dir should fail")
	}
}

func TestTimer(t *testing.T) {
	resetLogging(t)
	if err := Initialize(t.TempDir(), false, "info"); err != nil {
		t.Fatal(err)
	}

	timer := StartTimer(CategoryEngine, "noop")
	if d := timer.Stop(); d < 0 {
		t.Errorf("negative duration %v", d)
	}

	timer = StartTimer(CategoryEngine, "fast")
	if d := timer.StopWithThreshold(time.Hour); d < 0 {
		t.Errorf("negative duration %v", d)
	}
}
