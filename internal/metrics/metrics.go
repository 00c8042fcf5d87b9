// Package metrics defines the sink interface core components report into.
// Components receive a Recorder as a collaborator instead of touching
// process-global state, so tests can inject the no-op implementation.
package metrics

// Recorder receives counters from the resolution, accounting, and enrichment
// paths.
type Recorder interface {
	// CacheLookup records a resolution-cache lookup outcome: "hit", "miss",
	// or "error".
	CacheLookup(outcome string)
	// URLCreated records a successful short-URL creation.
	URLCreated()
	// RedirectServed records a redirect attempt with outcome "ok",
	// "not_found", or "gone".
	RedirectServed(outcome string)
	// ClickSynced records one fast-counter reconciliation into durable storage.
	ClickSynced()
	// TitleFetch records an enrichment attempt with outcome "ok", "error",
	// or "circuit_open".
	TitleFetch(outcome string)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) CacheLookup(string)    {}
func (Noop) URLCreated()           {}
func (Noop) RedirectServed(string) {}
func (Noop) ClickSynced()          {}
func (Noop) TitleFetch(string)     {}
