package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func newJSON(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(level)
	l.SetFormat(FormatJSON)
	l.SetOutput(&buf)
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, "warning": LevelWarn,
		" error ": LevelError, "fatal": LevelFatal, "bogus": LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatNormal, ParseFormat("text"))
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newJSON(LevelWarn)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown %d", 1)
	l.Error("shown %d", 2)

	lines := jsonLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "shown 1", lines[0]["message"])
	assert.Equal(t, "error", lines[1]["level"])
}

func TestEvent_IgnoresLevel(t *testing.T) {
	l, buf := newJSON(LevelError)
	l.Event("CAPTURE START", KV{"stream", "xqc"}, KV{"file", "/tmp/a.mp4"})

	lines := jsonLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "CAPTURE START", lines[0]["event"])
	assert.Equal(t, "xqc", lines[0]["stream"])
	assert.Equal(t, "/tmp/a.mp4", lines[0]["file"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestWith(t *testing.T) {
	l, buf := newJSON(LevelInfo)
	child := l.With("component", "resolver")
	child.Info("hello")
	l.Info("parent")

	lines := jsonLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "resolver", lines[0]["component"])
	assert.NotContains(t, lines[1], "component")
}

func TestWriter_SplitsLines(t *testing.T) {
	l, buf := newJSON(LevelDebug)
	w := l.Writer(LevelDebug)
	_, err := fmt.Fprint(w, "first\r\n\nsecond\n")
	require.NoError(t, err)

	lines := jsonLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0]["message"])
	assert.Equal(t, "second", lines[1]["message"])
}

func TestNormalFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelInfo)
	l.SetOutput(&buf)
	l.Info("plain %s", "text")
	assert.Contains(t, buf.String(), "plain text")
	assert.Contains(t, buf.String(), "INF")
}

func TestRequestLogger(t *testing.T) {
	l, buf := newJSON(LevelDebug)
	h := RequestLogger(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fine", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/boom", nil))

	lines := jsonLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "debug", lines[0]["level"])
	assert.Contains(t, lines[0]["message"], "GET /fine 200")
	assert.Equal(t, "warn", lines[1]["level"])
	assert.Contains(t, lines[1]["message"], "POST /boom 500")
}
