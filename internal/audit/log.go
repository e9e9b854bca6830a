package audit

import (
	"context"
	"errors"
	"strings"

	"accessgate.org/internal/obs"
)

// LogEvent writes an audit entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	obs.Ctx(ctx).Log().
		Str("type", "audit").
		Str("event", event).
		Interface("fields", copyFields).
		Send()
	return nil
}
