// Package telemetry sends opt-in usage events to PostHog. Everything here
// is a no-op unless the user enabled telemetry in the config file and
// supplied a project key.
package telemetry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// Tracker wraps a PostHog client. The zero value and a disabled Tracker
// both discard events.
type Tracker struct {
	client     posthog.Client
	distinctID string
}

// New creates a Tracker. When enabled is false or the key is empty the
// returned Tracker discards all events.
func New(enabled bool, projectKey string) *Tracker {
	if !enabled || projectKey == "" {
		return &Tracker{}
	}
	client, err := posthog.NewWithConfig(projectKey, posthog.Config{})
	if err != nil {
		return &Tracker{}
	}
	return &Tracker{client: client, distinctID: installID()}
}

// Track enqueues an event with properties. Safe to call on a disabled
// Tracker.
func (t *Tracker) Track(event string, props map[string]interface{}) {
	if t == nil || t.client == nil {
		return
	}
	capture := posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
	}
	if len(props) > 0 {
		capture.Properties = props
	}
	// Telemetry is best-effort; a failed enqueue must never affect a
	// download.
	_ = t.client.Enqueue(capture)
}

// Close flushes pending events.
func (t *Tracker) Close() {
	if t == nil || t.client == nil {
		return
	}
	t.client.Close()
}

// installID returns a stable anonymous identifier, generating and storing
// one on first use.
func installID() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return uuid.NewString()
	}
	path := filepath.Join(home, ".streetview-dl", "install_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		os.WriteFile(path, []byte(id+"\n"), 0o644)
	}
	return id
}
