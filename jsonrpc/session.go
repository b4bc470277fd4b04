package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/sharedcode/rop"
)

// A lane is recycled after this many consecutive transport-level failures.
const maxLaneFailures = 3

// session is one concurrency lane to the server. Lanes exist to cap in-flight calls
// and to keep per-lane failure tallies so a degraded lane gets replaced instead of
// poisoning the pool.
type session struct {
	id       int
	calls    int64
	failures int
}

// sessionPool hands out lanes, blocking callers once all are in flight.
type sessionPool struct {
	lanes chan *session

	mu     sync.Mutex
	nextID int
	closed bool
}

func newSessionPool(size int) *sessionPool {
	p := &sessionPool{
		lanes: make(chan *session, size),
	}
	for i := 0; i < size; i++ {
		p.nextID++
		p.lanes <- &session{id: p.nextID}
	}
	return p
}

// checkout blocks until a lane frees up or ctx is done.
func (p *sessionPool) checkout(ctx context.Context) (*session, error) {
	select {
	case s, ok := <-p.lanes:
		if !ok {
			return nil, fmt.Errorf("client is closed")
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkin returns the lane together with the call's outcome. Consecutive transport
// failures beyond the threshold retire the lane and a fresh one takes its slot.
func (p *sessionPool) checkin(s *session, err error) {
	s.calls++
	if err == nil {
		s.failures = 0
	} else {
		var e rop.Error
		if errors.As(err, &e) && (e.Code == rop.TransportFailure || e.Code == rop.SessionExpired) {
			s.failures++
		}
	}
	if s.failures >= maxLaneFailures {
		p.mu.Lock()
		p.nextID++
		id := p.nextID
		p.mu.Unlock()
		log.Warn(fmt.Sprintf("session lane %d retired after %d consecutive failures, replaced by lane %d", s.id, s.failures, id))
		s = &session{id: id}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.lanes <- s
}

func (p *sessionPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.lanes)
	// Drain so a pending checkout fails instead of grabbing a parked lane.
	for range p.lanes {
	}
}
