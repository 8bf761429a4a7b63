// Package learning coordinates interactive learning sessions between the
// MCP side, which blocks until the human is done, and the web side, where
// the human actually answers. All shared state lives in session files; the
// coordinator adds in-process wakeups and the timeout safety net on top.
package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kokistudios/sidecar/internal/record"
)

// Event announces a session state change to subscribers.
type Event struct {
	SessionID string               `json:"session_id"`
	Status    record.SessionStatus `json:"status"`
}

// ErrIllegalTransition is returned when a transition violates the session
// state machine, e.g. starting an already-started session.
type ErrIllegalTransition struct {
	From record.SessionStatus
	To   record.SessionStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal session transition %s -> %s", e.From, e.To)
}

// Coordinator owns the session lifecycle for one scope. Transitions are
// compare-and-set under its mutex, and the persisted file is always updated
// before any waiter or subscriber observes the new state.
type Coordinator struct {
	storage *Storage

	// PollInterval bounds how stale a waiter can see the on-disk state when
	// the terminal transition came from another process. Defaults to 1s.
	PollInterval time.Duration

	// timerFor converts a session's timeout into the timer duration. Tests
	// shrink it; the clamp on TimeoutSeconds itself is untouched.
	timerFor func(seconds int) time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	waiters map[string][]chan struct{}
	subs    map[int]chan Event
	nextSub int
}

// NewCoordinator returns a coordinator over the given storage.
func NewCoordinator(storage *Storage) *Coordinator {
	return &Coordinator{
		storage:      storage,
		PollInterval: time.Second,
		timerFor: func(seconds int) time.Duration {
			return time.Duration(seconds) * time.Second
		},
		timers:       make(map[string]*time.Timer),
		waiters:      make(map[string][]chan struct{}),
		subs:         make(map[int]chan Event),
	}
}

// Storage exposes the underlying session storage for listings and exports.
func (c *Coordinator) Storage() *Storage {
	return c.storage
}

// Create validates and persists a new waiting session and arms its timeout.
// The timeout fires regardless of whether anyone ever awaits or opens the
// session, so every session reaches a terminal state eventually.
func (c *Coordinator) Create(sess *record.LearningSession) (string, error) {
	if err := sess.Validate(); err != nil {
		return "", err
	}
	sess.ID = record.NewID()
	sess.Status = record.StatusWaiting
	sess.CreatedAt = record.Now()
	sess.UpdatedAt = sess.CreatedAt
	sess.TimeoutSeconds = record.ClampTimeout(sess.TimeoutSeconds)

	if err := c.storage.Save(sess); err != nil {
		return "", err
	}

	c.mu.Lock()
	id := sess.ID
	c.timers[id] = time.AfterFunc(c.timerFor(sess.TimeoutSeconds), func() {
		if _, err := c.transition(id, record.StatusTimedOut, nil); err != nil {
			log.Warn("session timeout transition failed", "id", id, "err", err)
		}
	})
	c.mu.Unlock()

	c.publish(Event{SessionID: id, Status: record.StatusWaiting})
	log.Info("learning session created", "id", id, "timeout_seconds", sess.TimeoutSeconds)
	return id, nil
}

// Get loads a session by id.
func (c *Coordinator) Get(id string) (*record.LearningSession, error) {
	return c.storage.Load(id)
}

// MarkStarted moves a waiting session to in_progress. Called by the web UI
// when the human opens the session.
func (c *Coordinator) MarkStarted(id string) (*record.LearningSession, error) {
	return c.transition(id, record.StatusInProgress, nil)
}

// Complete finishes a session with the quiz results.
func (c *Coordinator) Complete(id string, score int, answers []string) (*record.LearningSession, error) {
	return c.transition(id, record.StatusCompleted, func(sess *record.LearningSession) {
		sess.Score = &score
		sess.Answers = answers
	})
}

// Cancel marks a session cancelled.
func (c *Coordinator) Cancel(id string) (*record.LearningSession, error) {
	return c.transition(id, record.StatusCancelled, nil)
}

// transition is the single CAS point for session state. Under the lock it
// re-reads the persisted state, applies the state machine, persists, and
// only then wakes waiters and subscribers. A terminal current state makes
// any terminal request an idempotent no-op: exactly one terminal transition
// ever takes effect.
func (c *Coordinator) transition(id string, to record.SessionStatus, mutate func(*record.LearningSession)) (*record.LearningSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.storage.Load(id)
	if err != nil {
		return nil, err
	}

	if sess.Status.Terminal() {
		if to.Terminal() {
			return sess, nil
		}
		return nil, &ErrIllegalTransition{From: sess.Status, To: to}
	}
	if to == record.StatusInProgress && sess.Status != record.StatusWaiting {
		return nil, &ErrIllegalTransition{From: sess.Status, To: to}
	}

	sess.Status = to
	sess.UpdatedAt = record.Now()
	if mutate != nil {
		mutate(sess)
	}
	if err := c.storage.Save(sess); err != nil {
		return nil, err
	}

	if to.Terminal() {
		if timer := c.timers[id]; timer != nil {
			timer.Stop()
			delete(c.timers, id)
		}
		if to == record.StatusCompleted {
			if err := c.storage.RecordCompletion(sess); err != nil {
				log.Warn("could not record session completion", "id", id, "err", err)
			}
			if kept := c.storage.scope.Config.Session.MaxSessionsKept; kept > 0 {
				c.storage.Cleanup(kept)
			}
		}
		for _, ch := range c.waiters[id] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}

	c.publishLocked(Event{SessionID: id, Status: to})
	log.Info("session transition", "id", id, "status", to)
	return sess, nil
}

// AwaitCompletion blocks until the session reaches a terminal state or ctx
// is done, and returns the terminal session. In-process transitions wake it
// immediately; a poll covers transitions made by other processes.
func (c *Coordinator) AwaitCompletion(ctx context.Context, id string) (*record.LearningSession, error) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.waiters[id] = append(c.waiters[id], ch)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		ws := c.waiters[id]
		for i, w := range ws {
			if w == ch {
				c.waiters[id] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		if len(c.waiters[id]) == 0 {
			delete(c.waiters, id)
		}
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		sess, err := c.storage.Load(id)
		if err != nil {
			return nil, err
		}
		if sess.Status.Terminal() {
			return sess, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		case <-ticker.C:
		}
	}
}

// FindLatestWaiting returns the most recently created session still in the
// waiting state, or ErrNotFound. This replaces any notion of a mutable
// "current session": the UI asks for the latest waiting one instead.
func (c *Coordinator) FindLatestWaiting() (*record.LearningSession, error) {
	for _, sess := range c.storage.All() {
		if sess.Status == record.StatusWaiting {
			return sess, nil
		}
	}
	return nil, record.ErrNotFound
}

// Subscribe registers for session events. The returned cancel func must be
// called to release the subscription. Slow subscribers drop events rather
// than block transitions.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, 16)
	c.subs[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Coordinator) publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(ev)
}

func (c *Coordinator) publishLocked(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
