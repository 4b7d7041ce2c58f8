package slog_test

import (
	"bytes"
	"testing"

	rawslog "log/slog"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnigrid/omnigrid.go/pkg/logger/slog"
)

type logLine struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Table string `json:"table"`
}

func TestAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	a := slog.New(rawslog.NewJSONHandler(&buf, &rawslog.HandlerOptions{Level: rawslog.LevelDebug}))

	methods := []struct {
		fn    func(msg string, args ...any)
		level rawslog.Level
	}{
		{a.Debug, rawslog.LevelDebug},
		{a.Info, rawslog.LevelInfo},
		{a.Warn, rawslog.LevelWarn},
		{a.Error, rawslog.LevelError},
	}

	for _, m := range methods {
		t.Run(m.level.String(), func(t *testing.T) {
			buf.Reset()
			m.fn("batch flushed", "table", "people")

			var line logLine
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, m.level.String(), line.Level)
			assert.Equal(t, "batch flushed", line.Msg)
			assert.Equal(t, "people", line.Table)
		})
	}
}

func TestAdapterRespectsHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	a := slog.New(rawslog.NewJSONHandler(&buf, &rawslog.HandlerOptions{Level: rawslog.LevelInfo}))

	a.Debug("dropped")
	assert.Zero(t, buf.Len())
	a.Info("kept")
	assert.Contains(t, buf.String(), `"kept"`)
}

func TestFromLoggerKeepsBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := rawslog.New(rawslog.NewJSONHandler(&buf, nil)).With("adapter", "redis")
	a := slog.FromLogger(base)

	a.Info("connected")
	assert.Contains(t, buf.String(), `"adapter":"redis"`)
	assert.Contains(t, buf.String(), `"connected"`)
}
