package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscalclass/engine/pkg/agents"
)

func TestStdoutLogger_RecordWritesOneJSONLinePrefixedWithAUDIT(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf)

	require.NoError(t, logger.Record(AuditStep{
		StepID: "s1", ClassificationID: "c1", Agent: agents.NameNCM, Status: StepOK, Degraded: true,
	}))

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))

	var decoded AuditStep
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSuffix(line, "\n"), "AUDIT: ")), &decoded))
	assert.Equal(t, "s1", decoded.StepID)
	assert.True(t, decoded.Degraded)
}

func TestNewLoggerWithWriter_NilFallsBackToStdout(t *testing.T) {
	logger := NewLoggerWithWriter(nil)
	assert.NotNil(t, logger)
}
