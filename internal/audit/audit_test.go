package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/logging"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "info", "json")

	require.NoError(t, LogEvent(logger, Event{
		Actor:   "ci",
		Action:  "update",
		Outcome: "succeeded",
		Payload: map[string]any{"dry_run": true},
	}))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "ci", rec["actor"])
	assert.Equal(t, "update", rec["action"])
	assert.Equal(t, `{"dry_run":true}`, rec["payload"])
	assert.NotEmpty(t, rec["event_id"])
}

func TestLogEventRejectsUnencodablePayload(t *testing.T) {
	logger := logging.Discard()
	err := LogEvent(logger, Event{Action: "update", Payload: map[string]any{"bad": make(chan int)}})
	assert.Error(t, err)
}
