package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(prev)
		SetLevel(INFO)
	})
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var entries []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestLoggerComponentAndFields(t *testing.T) {
	buf := captureOutput(t)

	New("ledger").Warn("persist failed", "key", "clicks", "error", errors.New("quota exceeded"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "ledger", entries[0]["component"])
	assert.Equal(t, "clicks", entries[0]["key"])
	assert.Equal(t, "quota exceeded", entries[0]["error"])
}

func TestLoggerLevelFilter(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	Info("dropped")
	Error("kept")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
}

func TestLoggerRedactsPII(t *testing.T) {
	buf := captureOutput(t)

	Info("click", "user_id", "user-8f2c91", "email", "john.doe@example.com", "note", "contact ab@example.com")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "user***", entries[0]["user_id"])
	assert.Equal(t, "jo***@example.com", entries[0]["email"])
	assert.Equal(t, "contact ***@example.com", entries[0]["note"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestRedactID(t *testing.T) {
	assert.Equal(t, "", RedactID(""))
	assert.Equal(t, "***", RedactID("abcd"))
	assert.Equal(t, "sess***", RedactID("session-1"))
}
