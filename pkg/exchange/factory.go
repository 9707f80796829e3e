package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	logging "github.com/op/go-logging"

	"github.com/dmguessant/xchangeldap/pkg/httpfacade"
	"github.com/dmguessant/xchangeldap/pkg/stats"
)

// Factory implements SessionFactory by verifying credentials with a
// single authenticated GET against the configured Exchange URL, then
// handing back either a WebdavSession or a GraphSession depending on
// configuration.
type Factory struct {
	facade      *httpfacade.Facade
	log         *logging.Logger
	baseURL     string
	useGraphAPI bool

	mu       sync.Mutex
	acquired map[Session]struct{}
}

func NewFactory(facade *httpfacade.Facade, log *logging.Logger, baseURL string, useGraphAPI bool) *Factory {
	return &Factory{
		facade:      facade,
		log:         log,
		baseURL:     baseURL,
		useGraphAPI: useGraphAPI,
		acquired:    map[Session]struct{}{},
	}
}

// Acquire verifies user/password against Exchange and returns a Session
// scoped to that identity, or an *AuthFailedError on a non-2xx response.
func (f *Factory) Acquire(ctx context.Context, user, password string) (Session, error) {
	stats.Backend.Add("auth_reqs", 1)
	if err := f.probe(ctx, user, password); err != nil {
		stats.Backend.Add("auth_failures", 1)
		return nil, &AuthFailedError{User: user, Err: err}
	}
	stats.Backend.Add("auth_successes", 1)

	var session Session
	if f.useGraphAPI {
		session = newGraphSession(f.baseURL, user, password)
	} else {
		session = newWebdavSession(f.facade, f.log, user, password, f.baseURL)
	}

	f.mu.Lock()
	f.acquired[session] = struct{}{}
	f.mu.Unlock()
	return session, nil
}

// Release closes session and forgets it, tolerating a session this
// factory never acquired (e.g. already released).
func (f *Factory) Release(session Session) {
	if session == nil {
		return
	}
	f.mu.Lock()
	delete(f.acquired, session)
	f.mu.Unlock()
	if err := session.Close(); err != nil {
		f.log.Debug(fmt.Sprintf("exchange: closing session: %s", err.Error()))
	}
	stats.Backend.Add("closes", 1)
}

func (f *Factory) probe(ctx context.Context, user, password string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL, nil)
	if err != nil {
		return err
	}
	req = httpfacade.WithCredentials(req, user, password)
	resp, err := f.facade.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d probing %s", resp.StatusCode, f.baseURL)
	}
	return nil
}
