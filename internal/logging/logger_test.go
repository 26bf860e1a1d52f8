package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLoggerCarriesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newWithWriter(&buf, "api-server", "prod", "info"), "dispatcher")

	logger.Info().Int("token", 3).Msg("job delivered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "api-server", line["service"])
	assert.Equal(t, "dispatcher", line["component"])
	assert.Equal(t, "job delivered", line["message"])
	assert.EqualValues(t, 3, line["token"])
}

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "api-server", "prod", "warn")

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "api-server", "prod", "loud")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
