// Package session drives ghost-text suggestions for one editing surface.
//
// A Session owns the draft, the displayed continuation and the status line.
// Every input arrives as an Event through Dispatch and is handled on a
// single goroutine; debounce timers and oracle replies are fed back into
// the same queue, so no state is shared between goroutines.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	lyricghost "github.com/drunkenbot/lyricghost"
)

// State is the suggestion lifecycle state.
type State int

const (
	Idle State = iota
	Debouncing
	AwaitingOracle
	Suggested
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case AwaitingOracle:
		return "awaiting_oracle"
	case Suggested:
		return "suggested"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusKind is the style category of a status line.
type StatusKind string

const (
	StatusNone    StatusKind = ""
	StatusLoading StatusKind = "loading"
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
)

// Status is the text and style shown on the status line. The zero value clears it.
type Status struct {
	Text string
	Kind StatusKind
}

// Status texts.
const (
	TextWaiting      = "Waiting…"
	TextThinking     = "Thinking…"
	TextAccepted     = "Accepted"
	TextNeedMoreText = "Need more text"
)

// Defaults match the [session] section of the default config.
const (
	DefaultMinChars    = 10
	DefaultDebounce    = 500 * time.Millisecond
	DefaultAcceptedFor = 1500 * time.Millisecond
	DefaultNoticeFor   = 2 * time.Second
	DefaultErrorFor    = 3 * time.Second
)

const eventBuffer = 64

// Completer produces a continuation for a draft. Both the local engine
// and the HTTP client implement it.
type Completer interface {
	Complete(ctx context.Context, req *lyricghost.Request) (*lyricghost.Completion, error)
}

// Surface is the editing surface a Session drives. Methods are called
// from the session goroutine, in order.
type Surface interface {
	// Render shows draft followed by ghost text. An empty ghost hides it.
	Render(draft, ghost string)
	// SetStatus replaces the status line.
	SetStatus(Status)
	// ReplaceText replaces the editor contents and moves the cursor to the end.
	ReplaceText(text string)
}

// Snapshot is a consistent view of the session state.
type Snapshot struct {
	ID           string
	State        State
	Draft        string
	Continuation string
	Status       Status
	InFlight     bool
	// Requests counts oracle calls started so far.
	Requests int
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used for timers.
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithID sets the session ID instead of a random UUID.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithMinChars sets the trimmed draft length below which no suggestion is requested.
func WithMinChars(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.minChars = n
		}
	}
}

// WithDebounce sets the quiet period after the last edit before asking the oracle.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithStatusDurations sets how long transient statuses stay visible.
func WithStatusDurations(accepted, notice, failure time.Duration) Option {
	return func(s *Session) {
		if accepted > 0 {
			s.acceptedFor = accepted
		}
		if notice > 0 {
			s.noticeFor = notice
		}
		if failure > 0 {
			s.errorFor = failure
		}
	}
}

// WithConfig applies the [session] config section.
func WithConfig(cfg lyricghost.SessionConfig) Option {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return func(s *Session) {
		WithMinChars(cfg.MinChars)(s)
		WithDebounce(ms(cfg.DebounceMS))(s)
		WithStatusDurations(ms(cfg.AcceptedStatusMS), ms(cfg.NoticeStatusMS), ms(cfg.ErrorStatusMS))(s)
	}
}

// Session is one editing surface's suggestion lifecycle.
type Session struct {
	id          string
	completer   Completer
	surface     Surface
	clock       Clock
	log         *slog.Logger
	minChars    int
	debounce    time.Duration
	acceptedFor time.Duration
	noticeFor   time.Duration
	errorFor    time.Duration

	events    chan Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	final     Snapshot

	// Owned by the loop goroutine.
	state         State
	draft         string
	continuation  string
	status        Status
	debounceTimer Timer
	debounceGen   uint64
	statusTimer   Timer
	statusGen     uint64
	busy          bool
	seq           uint64
	requested     string
	requests      int
}

// New starts a session that asks completer for continuations and drives surface.
func New(completer Completer, surface Surface, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		completer:   completer,
		surface:     surface,
		clock:       realClock{},
		minChars:    DefaultMinChars,
		debounce:    DefaultDebounce,
		acceptedFor: DefaultAcceptedFor,
		noticeFor:   DefaultNoticeFor,
		errorFor:    DefaultErrorFor,
		events:      make(chan Event, eventBuffer),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.Default().With("session", s.id)
	go s.run()
	return s
}

// ID returns the session ID sent along with oracle requests.
func (s *Session) ID() string { return s.id }

// Dispatch queues an event. It is a no-op after Close.
func (s *Session) Dispatch(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// Snapshot returns the state as seen by the session goroutine after every
// previously dispatched event has been handled.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.events <- snapshotQuery{reply: reply}:
	case <-s.quit:
		<-s.done
		return s.final
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return s.final
	}
}

// Close stops the session, its timers and any outstanding oracle call.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.cancel()
	})
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.quit:
			s.stopDebounce()
			if s.statusTimer != nil {
				s.statusTimer.Stop()
			}
			s.final = s.snapshot()
			return
		}
	}
}

func (s *Session) handle(ev Event) {
	switch ev := ev.(type) {
	case Edit:
		s.onEdit(ev.Text)
	case Accept:
		s.onAccept()
	case Dismiss:
		s.clearAll()
	case PointerMoved:
		s.clearAll()
	case Refresh:
		s.onRefresh()
	case debounceFired:
		s.onDebounceFired(ev.gen)
	case oracleReply:
		s.onReply(ev)
	case statusExpired:
		s.onStatusExpired(ev.gen)
	case snapshotQuery:
		ev.reply <- s.snapshot()
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:           s.id,
		State:        s.state,
		Draft:        s.draft,
		Continuation: s.continuation,
		Status:       s.status,
		InFlight:     s.busy,
		Requests:     s.requests,
	}
}

func (s *Session) onEdit(text string) {
	s.draft = text
	s.stopDebounce()
	s.clearContinuation()

	if !s.longEnough() {
		s.setState(Idle)
		s.setStatus(Status{})
		return
	}

	s.setState(Debouncing)
	s.setStatus(Status{Text: TextWaiting, Kind: StatusLoading})
	s.debounceGen++
	gen := s.debounceGen
	s.debounceTimer = s.clock.AfterFunc(s.debounce, func() {
		s.post(debounceFired{gen: gen})
	})
}

func (s *Session) onDebounceFired(gen uint64) {
	if gen != s.debounceGen || s.state != Debouncing {
		return
	}
	s.debounceTimer = nil
	s.setState(AwaitingOracle)
	if s.busy {
		s.log.Debug("debounce fired while a request is in flight, dropped")
		s.setStatus(Status{Text: TextThinking, Kind: StatusLoading})
		return
	}
	s.request(false)
}

func (s *Session) onRefresh() {
	if !s.longEnough() {
		s.setStatusFor(Status{Text: TextNeedMoreText, Kind: StatusError}, s.noticeFor)
		return
	}
	s.stopDebounce()
	s.clearContinuation()
	s.setState(AwaitingOracle)
	if s.busy {
		s.log.Debug("refresh while a request is in flight, dropped")
		s.setStatus(Status{Text: TextThinking, Kind: StatusLoading})
		return
	}
	s.request(true)
}

func (s *Session) request(refresh bool) {
	text := strings.TrimSpace(s.draft)
	s.busy = true
	s.seq++
	s.requests++
	s.requested = text
	seq := s.seq
	s.setStatus(Status{Text: TextThinking, Kind: StatusLoading})
	s.log.Debug("requesting continuation", "text", text, "refresh", refresh)

	ctx := lyricghost.WithSessionID(s.ctx, s.id)
	go func() {
		c, err := s.completer.Complete(ctx, &lyricghost.Request{PartialLyric: text, Refresh: refresh})
		s.post(oracleReply{seq: seq, completion: c, err: err})
	}()
}

func (s *Session) onReply(r oracleReply) {
	if r.seq != s.seq {
		return
	}
	s.busy = false
	requested := s.requested
	s.requested = ""

	if s.state != AwaitingOracle {
		s.log.Debug("discarding reply", "state", s.state)
		return
	}
	if strings.TrimSpace(s.draft) != requested {
		s.log.Debug("discarding stale reply", "requested", requested)
		s.setState(Idle)
		s.setStatus(Status{})
		return
	}
	if r.err == nil && (r.completion == nil || r.completion.Text == "") {
		r.err = lyricghost.ErrOracleEmpty
	}
	if r.err != nil {
		s.log.Warn("suggestion failed", "error", r.err)
		s.setState(Failed)
		s.setStatusFor(Status{Text: failureText(r.err), Kind: StatusError}, s.errorFor)
		return
	}

	s.continuation = r.completion.Text
	s.setState(Suggested)
	s.surface.Render(s.draft, s.ghost())
	s.setStatus(Status{})
}

func (s *Session) onAccept() {
	if s.state != Suggested || s.continuation == "" {
		return
	}
	s.draft += s.ghost()
	s.continuation = ""
	s.setState(Idle)
	s.surface.ReplaceText(s.draft)
	s.surface.Render(s.draft, "")
	s.setStatusFor(Status{Text: TextAccepted, Kind: StatusSuccess}, s.acceptedFor)
}

// clearAll handles dismissal and pointer moves.
func (s *Session) clearAll() {
	s.stopDebounce()
	s.clearContinuation()
	s.setState(Idle)
	s.setStatus(Status{})
}

func (s *Session) onStatusExpired(gen uint64) {
	if gen != s.statusGen {
		return
	}
	s.statusTimer = nil
	s.setStatus(Status{})
	if s.state == Failed {
		s.setState(Idle)
	}
}

func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Session) longEnough() bool {
	return utf8.RuneCountInString(strings.TrimSpace(s.draft)) >= s.minChars
}

// ghost is the text appended to the draft on accept.
func (s *Session) ghost() string {
	return Join(s.draft, s.continuation)[len(s.draft):]
}

func (s *Session) clearContinuation() {
	if s.continuation == "" {
		return
	}
	s.continuation = ""
	s.surface.Render(s.draft, "")
}

func (s *Session) stopDebounce() {
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	// A timer that already fired may have its event queued.
	s.debounceGen++
}

func (s *Session) setState(st State) {
	if st == s.state {
		return
	}
	s.log.Debug("transition", "from", s.state, "to", st)
	s.state = st
}

// setStatus shows st until the next status change.
func (s *Session) setStatus(st Status) {
	s.statusGen++
	if s.statusTimer != nil {
		s.statusTimer.Stop()
		s.statusTimer = nil
	}
	if st == s.status {
		return
	}
	s.status = st
	s.surface.SetStatus(st)
}

// setStatusFor shows st and clears it after d unless another status replaced it.
func (s *Session) setStatusFor(st Status, d time.Duration) {
	s.setStatus(st)
	gen := s.statusGen
	s.statusTimer = s.clock.AfterFunc(d, func() {
		s.post(statusExpired{gen: gen})
	})
}

// Join appends continuation to draft, inserting one space when both sides
// would otherwise run two words together.
func Join(draft, continuation string) string {
	if draft == "" || continuation == "" {
		return draft + continuation
	}
	last, _ := utf8.DecodeLastRuneInString(draft)
	first, _ := utf8.DecodeRuneInString(continuation)
	if unicode.IsSpace(last) || unicode.IsSpace(first) || strings.ContainsRune(",.;:!?)]}…", first) {
		return draft + continuation
	}
	return draft + " " + continuation
}

func failureText(err error) string {
	switch {
	case errors.Is(err, lyricghost.ErrOracleEmpty):
		return "No suggestion"
	case errors.Is(err, lyricghost.ErrNotConfigured):
		return "Completion service not configured"
	case errors.Is(err, lyricghost.ErrInvalidInput):
		return "Invalid input"
	case errors.Is(err, context.DeadlineExceeded):
		return "Suggestion timed out"
	case errors.Is(err, lyricghost.ErrOracleUnavailable):
		return "Model unavailable"
	default:
		return "Error getting suggestion"
	}
}
