package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevelFallback(t *testing.T) {
	if got := NewLogger(Config{Level: "debug"}).GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", got)
	}
	if got := NewLogger(Config{}).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("empty level should fall back to info, got %s", got)
	}
	if got := NewLogger(Config{Level: "loud"}).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", got)
	}
}

func TestOutputStream(t *testing.T) {
	if outputStream(" STDERR ") != os.Stderr {
		t.Fatal("stderr output not selected")
	}
	if outputStream("") != os.Stdout {
		t.Fatal("stdout should be the default output")
	}
}

func TestComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(zerolog.New(&buf), "aggregator")
	logger.Info().Msg("pass done")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["component"] != "aggregator" {
		t.Fatalf("component field missing: %v", entry)
	}
}

func TestConsoleFormatWrapsWriter(t *testing.T) {
	var buf bytes.Buffer
	if _, ok := logWriter(Config{Format: "console"}, &buf).(zerolog.ConsoleWriter); !ok {
		t.Fatal("console format should use ConsoleWriter")
	}
	if w := logWriter(Config{Format: "json"}, &buf); w != &buf {
		t.Fatal("json format should write directly")
	}
}
