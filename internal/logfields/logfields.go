// Package logfields standardizes the structured-log fields shared across the
// exporter so components tag their entries the same way.
package logfields

import (
	"strings"

	"pkt.systems/pslog"
)

// ComponentKey is the canonical key used to tag log entries with the
// emitting component.
const ComponentKey = pslog.TrustedString("sys")

// Component joins the supplied parts into a dotted component path,
// dropping empty fragments.
func Component(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, ".")
}

// WithComponent attaches a component tag to every entry the returned logger
// emits. A nil logger yields a no-op logger so callers never check.
func WithComponent(logger pslog.Logger, component string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	component = strings.Trim(component, ". ")
	if component == "" {
		return logger
	}
	return logger.With(ComponentKey, component)
}
