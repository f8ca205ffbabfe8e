package session

import lyricghost "github.com/drunkenbot/lyricghost"

// Event is an input to a Session. Surfaces send Edit, Accept, Dismiss,
// Refresh and PointerMoved; timers and oracle replies use internal events.
type Event interface {
	event()
}

// Edit reports the full draft text after a user edit.
type Edit struct {
	Text string
}

// Accept appends the displayed continuation to the draft.
type Accept struct{}

// Dismiss hides the continuation and clears the status.
type Dismiss struct{}

// Refresh asks for a new continuation immediately, bypassing the debounce
// and the completion cache.
type Refresh struct{}

// PointerMoved reports a cursor relocation by pointer (click or tap).
type PointerMoved struct{}

type debounceFired struct {
	gen uint64
}

type oracleReply struct {
	seq        uint64
	completion *lyricghost.Completion
	err        error
}

type statusExpired struct {
	gen uint64
}

type snapshotQuery struct {
	reply chan Snapshot
}

func (Edit) event()          {}
func (Accept) event()        {}
func (Dismiss) event()       {}
func (Refresh) event()       {}
func (PointerMoved) event()  {}
func (debounceFired) event() {}
func (oracleReply) event()   {}
func (statusExpired) event() {}
func (snapshotQuery) event() {}
