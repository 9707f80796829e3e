package httpfacade

import (
	"net/http"
	"sync"
	"time"

	logging "github.com/op/go-logging"
)

// reaper is the background worker that wakes every IdleCloseThreshold and
// closes every pooled connection that is idle at that moment, however
// briefly. Closing connections idle for IdleCloseThreshold is done by the
// Transport itself via IdleConnTimeout; the explicit reaper gives
// Start/Stop an observable lifecycle.
type reaper struct {
	transport *http.Transport
	log       *logging.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

func newReaper(t *http.Transport, log *logging.Logger) *reaper {
	return &reaper{transport: t, log: log, stopped: true}
}

func (r *reaper) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		return
	}
	r.stopped = false
	r.stopCh = make(chan struct{})
	go r.run(r.stopCh)
}

func (r *reaper) run(stop chan struct{}) {
	ticker := time.NewTicker(IdleCloseThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.transport.CloseIdleConnections()
		case <-stop:
			return
		}
	}
}

// stop is idempotent: calling it on an already-stopped reaper, or
// concurrently with start, is safe — matching the "null-after-stop is
// permitted" tolerance the design notes call for.
func (r *reaper) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	close(r.stopCh)
	r.transport.CloseIdleConnections()
}
