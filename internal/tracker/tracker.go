package tracker

import (
	"log/slog"
	"sync"
	"time"

	"meshmonitor/internal/bus"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/events"
)

// Outcome is the terminal result of a tracked request.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeResponse  Outcome = "response"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o == OutcomeFailed || o == OutcomeTimeout
}

// Resolution carries the single result delivered to a request's callback.
type Resolution struct {
	Outcome Outcome
	Err     string
	Payload any
}

type entry struct {
	kind        domain.RequestKind
	destination domain.NodeNum
	mintedAt    time.Time
	timer       *time.Timer
	onResolve   func(Resolution)
}

// Tracker owns the pending-request table. Each id resolves exactly once:
// by an explicit Resolve call or by its timeout, whichever fires first.
type Tracker struct {
	logger *slog.Logger
	bus    bus.MessageBus

	mu      sync.Mutex
	pending map[uint32]*entry
	closed  bool
}

func New(logger *slog.Logger, b bus.MessageBus) *Tracker {
	return &Tracker{
		logger:  logger,
		bus:     b,
		pending: make(map[uint32]*entry),
	}
}

// Track registers a request. onResolve runs exactly once, outside the
// tracker lock. A nil onResolve is allowed; the resolution event is still
// published on the bus.
func (t *Tracker) Track(id uint32, kind domain.RequestKind, destination domain.NodeNum, timeout time.Duration, onResolve func(Resolution)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return
	}
	if prev, ok := t.pending[id]; ok {
		prev.timer.Stop()
	}
	e := &entry{
		kind:        kind,
		destination: destination,
		mintedAt:    time.Now(),
		onResolve:   onResolve,
	}
	e.timer = time.AfterFunc(timeout, func() {
		t.Resolve(id, Resolution{Outcome: OutcomeTimeout, Err: "request timed out"})
	})
	t.pending[id] = e
	t.mu.Unlock()

	t.logger.Debug("request tracked", "request_id", id, "kind", kind.String(), "timeout", timeout)
}

// Resolve delivers the result for id. Returns false when the id is not
// pending, so late or duplicate notifications are no-ops.
func (t *Tracker) Resolve(id uint32, res Resolution) bool {
	t.mu.Lock()
	e, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()

	t.logger.Debug("request resolved",
		"request_id", id, "kind", e.kind.String(), "outcome", string(res.Outcome),
		"elapsed", time.Since(e.mintedAt))
	if e.onResolve != nil {
		e.onResolve(res)
	}
	if t.bus != nil {
		t.bus.Publish(events.TopicRequestDone, events.RequestResolved{
			RequestID: id,
			Kind:      e.kind,
			Outcome:   string(res.Outcome),
			Err:       res.Err,
		})
	}

	return true
}

// Kind reports the kind of a pending id, with ok=false when unknown.
func (t *Tracker) Kind(id uint32) (domain.RequestKind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[id]
	if !ok {
		return 0, false
	}

	return e.kind, true
}

// Destination reports the destination node of a pending id.
func (t *Tracker) Destination(id uint32) (domain.NodeNum, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[id]
	if !ok {
		return 0, false
	}

	return e.destination, true
}

// Pending reports the number of unresolved requests.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}

// Close stops all timers. Pending requests are resolved as failed.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return
	}
	t.closed = true
	remaining := t.pending
	t.pending = make(map[uint32]*entry)
	t.mu.Unlock()

	for id, e := range remaining {
		e.timer.Stop()
		if e.onResolve != nil {
			e.onResolve(Resolution{Outcome: OutcomeFailed, Err: "tracker closed"})
		}
		t.logger.Debug("request cancelled at close", "request_id", id)
	}
}
