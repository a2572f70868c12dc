package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("ec", "1.1.1.1").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "1.1.1.1", entry["ec"])
	assert.Equal(t, "zymctrl", entry["app"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Format: "console", Writer: &buf})
	require.NoError(t, err)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestInvalidOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Format: "xml"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	level, err := ParseLevel("off")
	require.NoError(t, err)
	assert.Equal(t, zerolog.Disabled, level)
}
