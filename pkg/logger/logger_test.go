package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo})

	log.With(Component("streak")).Info("streak updated",
		UserID("u-1"), Int("current_streak", 4), Latency(1500*time.Millisecond), Err(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "streak updated", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "streak", entry["component"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.EqualValues(t, 4, entry["current_streak"])
	assert.Equal(t, "1.5s", entry["latency"])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn})

	log.Info("ignored")
	log.Debug("ignored too")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestFromContext(t *testing.T) {
	log := Nop()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
