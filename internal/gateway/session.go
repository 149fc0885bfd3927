package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avawsgw/internal/events"
)

// task is one queued dispatch. after runs once the dispatch returned.
type task struct {
	routeKey string
	event    *events.Event
	after    func()
}

// session is the gateway side of a registered connection. Its tasks are
// dispatched one at a time, in arrival order, by a single worker.
type session struct {
	id          string
	handle      Handle
	connectedAt time.Time
	activeNanos atomic.Int64
	limiter     *rate.Limiter

	queue    chan task
	done     chan struct{}
	final    task
	stopOnce sync.Once
}

func newSession(id string, handle Handle, now time.Time, queueSize int, limiter *rate.Limiter) *session {
	s := &session{
		id:          id,
		handle:      handle,
		connectedAt: now,
		limiter:     limiter,
		queue:       make(chan task, queueSize),
		done:        make(chan struct{}),
	}
	s.touch(now)
	return s
}

func (s *session) touch(now time.Time) {
	s.activeNanos.Store(now.UnixNano())
}

func (s *session) lastActive() time.Time {
	return time.Unix(0, s.activeNanos.Load())
}

// allow reports whether the throttle admits another inbound message.
func (s *session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// enqueue appends t, blocking while the queue is full. It returns false
// once the session is stopped; a stopped session never blocks a caller.
func (s *session) enqueue(t task) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- t:
		return true
	case <-s.done:
		return false
	}
}

// stop records the final task and signals the worker, which runs it
// after the tasks already queued. Only the first call has an effect.
func (s *session) stop(final task) bool {
	stopped := false
	s.stopOnce.Do(func() {
		s.final = final
		close(s.done)
		stopped = true
	})
	return stopped
}

// run is the dispatch worker of s.
func (g *Gateway) run(s *session) {
	defer g.workers.Done()

	for {
		select {
		case t := <-s.queue:
			g.runTask(s, t)
		case <-s.done:
			for {
				select {
				case t := <-s.queue:
					g.runTask(s, t)
				default:
					g.runTask(s, s.final)
					return
				}
			}
		}
	}
}

func (g *Gateway) runTask(s *session, t task) {
	g.dispatch(s, t.routeKey, t.event)
	if t.after != nil {
		t.after()
	}
}
