package terminal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Start launches the reaper. It is safe to call more than once.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.reap()
	})
}

func (r *Registry) reap() {
	defer close(r.reaperDone)

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	r.log.Debug("Reaper started", zap.Duration("interval", r.opts.SweepInterval))
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

type victim struct {
	terminate func(Reason)
	reason    Reason
}

// sweep evicts sessions whose child exited or that have been idle past the
// timeout, then terminates them concurrently. A session in the middle of an
// operation is not idle and is skipped. It returns the number reclaimed.
func (r *Registry) sweep(now time.Time) int {
	idle := r.IdleTimeout()

	var victims []victim
	r.mu.Lock()
	for _, s := range r.sessions {
		reason, ok := s.expired(now, idle)
		if !ok {
			continue
		}
		if reason == ReasonTimedOut {
			if !s.opMu.TryLock() {
				continue
			}
			s.opMu.Unlock()
		}
		victims = append(victims, victim{terminate: r.retireLocked(s), reason: reason})
	}
	r.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, v := range victims {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.terminate(v.reason)
		}()
	}
	wg.Wait()

	r.log.Info("Reaped sessions", zap.Int("count", len(victims)))
	return len(victims)
}

// Shutdown stops the reaper and terminates every session. New sessions are
// refused from the moment it is called. It returns ctx.Err() if ctx ends
// before all children are confirmed dead.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r.started.Load() {
			<-r.reaperDone
		}

		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Terminate(ReasonKilled)
			}()
		}
		wg.Wait()
		r.evictions.Wait()
	}()

	select {
	case <-done:
		r.log.Info("Registry shut down", zap.Int("sessions", len(sessions)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
