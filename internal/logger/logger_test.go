package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "production", "warn")

	log.Info().Msg("hidden")
	log.Warn().Str("user_id", "u1").Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "pointledger", entry["service"])
	assert.Equal(t, "u1", entry["user_id"])
}

func TestNewWithWriter_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "", "nonsense")

	log.Debug().Msg("debug")
	assert.Zero(t, buf.Len())
	log.Info().Msg("info")
	assert.NotZero(t, buf.Len())
}
