// Package core is the orchestration layer.  It composes the session
// handler, listeners, the status server and the transports into the
// two things relaychat can do, and provides a builder that selects one
// from a Config.
//
// Architecture layers (bottom → top):
//
//	registry  →  session  →  status / tunnel / transport  →  core  →  cmd
package core

import "context"

// Mode is a complete operational mode of relaychat (serve or join).
// Each mode owns its full lifecycle from listening or dialing to
// teardown.
type Mode interface {
	Run(ctx context.Context) error
}
