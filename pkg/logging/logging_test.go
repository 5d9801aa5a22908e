package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	SetupWithOutput("debug", "json", &buf)
	t.Cleanup(func() { Setup("info", "text") })

	log.WithField("instrument", "frxEURUSD").Debug("evaluated")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "frxEURUSD", line["instrument"])
	assert.Equal(t, "debug", line["level"])
}

func TestSetupUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	SetupWithOutput("loud", "text", &buf)
	t.Cleanup(func() { Setup("info", "text") })

	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "Unknown log level")
}
