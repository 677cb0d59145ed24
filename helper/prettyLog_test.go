package helper

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrettyHandler(t *testing.T) {
	t.Run("Create PrettyHandler with default options", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		require.NotNil(t, handler, "Expected NewPrettyHandler to return a non-nil handler")
		assert.NotNil(t, handler.Handler, "Expected handler to have a non-nil Handler field")
		assert.NotNil(t, handler.l, "Expected handler to have a non-nil logger field")
	})

	t.Run("Level option is honoured by Enabled", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{Level: slog.LevelWarn},
		})

		assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, handler.Enabled(context.Background(), slog.LevelError))
	})
}

func TestPrettyHandlerHandle(t *testing.T) {
	tests := []struct {
		name   string
		level  slog.Level
		attrs  []slog.Attr
		expect []string
	}{
		{"Debug record", slog.LevelDebug, []slog.Attr{slog.String("key", "value")}, []string{"DEBUG:", "key", "value"}},
		{"Info record", slog.LevelInfo, []slog.Attr{slog.Int("count", 42)}, []string{"INFO:", "count", "42"}},
		{"Warn record", slog.LevelWarn, []slog.Attr{slog.Bool("flag", true)}, []string{"WARN:", "flag", "true"}},
		{"Error record", slog.LevelError, []slog.Attr{slog.String("error", "something went wrong")}, []string{"ERROR:", "something went wrong"}},
		{"Record without attributes", slog.LevelInfo, nil, []string{"INFO:", "{}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewPrettyHandler(&buf, PrettyHandlerOptions{
				SlogOpts: slog.HandlerOptions{Level: slog.LevelDebug},
			})

			record := slog.NewRecord(time.Now(), tt.level, "message under test", 0)
			record.AddAttrs(tt.attrs...)

			err := handler.Handle(context.Background(), record)
			require.NoError(t, err, "Expected Handle to not return an error")

			output := buf.String()
			assert.Contains(t, output, "message under test")
			for _, e := range tt.expect {
				assert.Contains(t, output, e)
			}
			assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\.\d{3}\]`, output, "Expected output to contain properly formatted timestamp")
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("Logger writes through the pretty handler", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, slog.LevelInfo)

		logger.Info("tier finished", slog.String("tier", "tier1"))
		logger.Debug("hidden")

		assert.Contains(t, buf.String(), "tier finished")
		assert.Contains(t, buf.String(), "tier1")
		assert.NotContains(t, buf.String(), "hidden")
	})
}
