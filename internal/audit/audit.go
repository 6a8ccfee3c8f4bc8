// Package audit records who triggered which operation.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Event struct {
	Actor   string
	Action  string
	Outcome string
	Payload map[string]any
}

// LogEvent writes event as one "audit" log record with a fresh event id.
func LogEvent(logger Logger, event Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("audit log failed", "action", event.Action, "error", err)
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	logger.Info("audit",
		"event_id", uuid.NewString(),
		"actor", event.Actor,
		"action", event.Action,
		"outcome", event.Outcome,
		"payload", string(body),
		"ts", time.Now().UTC().Format(time.RFC3339),
	)
	return nil
}
