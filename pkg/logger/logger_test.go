package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := NewWithOptions(WithLevel(level), WithFormat(JSONFormat), WithWriter(buf))
	require.NoError(t, err)
	return l, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{File: filepath.Join(dir, "app.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "rotate.log")}}},
		{name: "bad format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_ = l.Sync()
		})
	}
}

func TestPresets(t *testing.T) {
	prod, err := NewProduction()
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, prod.Level())

	dev, err := NewDevelopment()
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, dev.Level())
}

func TestSetLevel_AppliesToChildren(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)
	child := l.With(zap.String("component", "realtime"))

	child.Debug("hidden")
	l.SetLevel(DebugLevel)
	child.Debug("visible")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "visible", lines[0]["msg"])
	assert.Equal(t, "realtime", lines[0]["component"])
	assert.Equal(t, DebugLevel, child.Level())
}

func TestContextFields(t *testing.T) {
	l, buf := newBufferLogger(t, DebugLevel)
	ctx := WithFields(context.Background(), zap.String("socket_id", "s1"))
	ctx = WithFields(ctx, zap.String("project_id", "p1"))

	l.InfoContext(ctx, "joined", zap.Int("attempt", 1))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "s1", lines[0]["socket_id"])
	assert.Equal(t, "p1", lines[0]["project_id"])
	assert.EqualValues(t, 1, lines[0]["attempt"])
	assert.NotContains(t, lines[0], "trace_id")
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Info("dropped")
		l.Named("x").With(zap.String("a", "b")).ErrorContext(context.Background(), "dropped")
	})
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, lvl)
	assert.Equal(t, "warn", lvl.String())

	_, err = ParseLevel("loud")
	assert.Error(t, err)

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("debug")))
	assert.Equal(t, DebugLevel, l)
}

type recordingHook struct{ messages []string }

func (h *recordingHook) OnWrite(entry zapcore.Entry, _ []zapcore.Field) error {
	h.messages = append(h.messages, entry.Message)
	return nil
}

func TestHook(t *testing.T) {
	hook := &recordingHook{}
	l, err := NewWithOptions(WithWriter(&bytes.Buffer{}), WithHook(hook))
	require.NoError(t, err)

	l.Info("one")
	l.Debug("filtered")
	l.Warn("two")

	assert.Equal(t, []string{"one", "two"}, hook.messages)
}

func TestWithName(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := NewWithOptions(WithWriter(buf), WithName("sync-server"))
	require.NoError(t, err)

	l.Named("hub").Info("started")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sync-server.hub", entry["logger"])
}

func TestHook_ErrorDoesNotDropEntry(t *testing.T) {
	buf := &bytes.Buffer{}
	failing := HookFunc(func(zapcore.Entry, []zapcore.Field) error { return errors.New("sink down") })
	l, err := NewWithOptions(WithWriter(buf), WithHook(failing))
	require.NoError(t, err)

	l.Info("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestFormat_UnmarshalText(t *testing.T) {
	var f Format
	require.NoError(t, f.UnmarshalText([]byte(" Console ")))
	assert.Equal(t, ConsoleFormat, f)

	assert.Error(t, f.UnmarshalText([]byte("xml")))
	assert.Equal(t, ConsoleFormat, f)
	assert.True(t, Format("").IsValid())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, buf := newBufferLogger(t, DebugLevel)

	r := gin.New()
	r.Use(Middleware(l, "/metrics"))
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/metrics", "/boom"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "/boom", lines[0]["path"])
	assert.Equal(t, "error", lines[0]["level"])
}
