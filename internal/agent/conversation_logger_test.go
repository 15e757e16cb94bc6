package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		UserID:     "user-1",
		SessionID:  "sess-1",
		Channel:    "http",
		Direction:  "inbound",
		EventType:  "user_message",
		ContentRaw: "one   latte\n please",
	})

	path := filepath.Join(dir, "user-1", "sess-1.ndjson")
	line := waitForLogLine(t, path)
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "one   latte\n please" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content != "one latte please" {
		t.Fatalf("unexpected cleaned content: %q", got.Content)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be populated")
	}
}

func TestConversationLoggerCloseFlushesGlobalFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		logger.Log(ConversationLogEvent{UserID: "../../etc", SessionID: "s", EventType: "bot_message", ContentRaw: "hi"})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Logging after close is dropped silently.
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s"})

	data, err := os.ReadFile(global)
	if err != nil {
		t.Fatalf("read global log: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 3 {
		t.Fatalf("expected 3 lines, got %d", n)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("per-session files written although disabled: %v", entries)
	}
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if _, ok := logger.(noopConversationLogger); !ok {
		t.Fatalf("expected noop logger, got %T", logger)
	}
}

func TestSafePathPart(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"user-1":    "user-1",
		"../../etc": "_.._etc",
		"a/b c":     "a_b_c",
		"":          "unknown",
		"..":        "unknown",
	}
	for in, want := range tests {
		if got := safePathPart(in); got != want {
			t.Errorf("safePathPart(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if !strings.Contains(clean, "error plain") {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
