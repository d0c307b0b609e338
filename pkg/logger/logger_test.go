package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.log")
	log := New(LoggingConfig{Level: "debug", Format: "json", Output: path}).Component("scheduler")

	log.WithField("order_id", "abc").Info("order created")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "abc", entry["order_id"])
	assert.Equal(t, "order created", entry["msg"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log := New(LoggingConfig{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())
}

func TestDiscard(t *testing.T) {
	log := Discard().Component("x")
	log.Error("dropped")
	assert.Equal(t, "x", log.Data["component"])
}
