package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	dErrors "sweeper/pkg/domain-errors"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", FormatJSON)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("tenant session established", zap.String("tenant", "Parent Tenant"))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tenant session established", entry["msg"])
	assert.Equal(t, "Parent Tenant", entry["tenant"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_DebugLevelEmitsDebug(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", FormatConsole)
	require.NoError(t, err)

	log.Debug("api request")
	assert.Contains(t, buf.String(), "api request")
}

func TestNew_RejectsBadSettings(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", FormatJSON)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = New(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
