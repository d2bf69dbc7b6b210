package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{
		Output: &buf,
		Level:  slog.LevelInfo,
		Format: FormatJSON,
		Attrs:  []slog.Attr{slog.String("service", "schedule-sync")},
	})

	log.Debug("hidden")
	log.Info("synced", ScheduleID(42), RunID("r-1"), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "synced", entry["msg"])
	assert.Equal(t, "schedule-sync", entry["service"])
	assert.Equal(t, float64(42), entry["schedule_id"])
	assert.Equal(t, "r-1", entry["run_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: slog.LevelDebug, Format: FormatText})
	log.Debug("visible", Component("parser"))

	assert.Contains(t, buf.String(), "msg=visible")
	assert.Contains(t, buf.String(), "component=parser")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	l := Discard()
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.Same(t, l, OrDefault(l))
	assert.Equal(t, slog.Default(), OrDefault(nil))
}
