package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	logging "github.com/op/go-logging"
)

func TestFactoryAcquireFailsOnBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewFactory(testFacade(t), logging.MustGetLogger("t"), srv.URL, false)
	_, err := f.Acquire(context.Background(), "u", "wrong")
	if err == nil {
		t.Fatal("expected AuthFailedError")
	}
	if _, ok := err.(*AuthFailedError); !ok {
		t.Fatalf("expected *AuthFailedError, got %T", err)
	}
}

func TestFactoryAcquireAndReleaseRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewFactory(testFacade(t), logging.MustGetLogger("t"), srv.URL, false)
	session, err := f.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := session.(*WebdavSession); !ok {
		t.Fatalf("expected *WebdavSession, got %T", session)
	}
	f.Release(session)

	f.mu.Lock()
	_, tracked := f.acquired[session]
	f.mu.Unlock()
	if tracked {
		t.Fatal("expected session to be untracked after Release")
	}
}

func TestFactoryUsesGraphSessionWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewFactory(testFacade(t), logging.MustGetLogger("t"), srv.URL, true)
	session, err := f.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := session.(*GraphSession); !ok {
		t.Fatalf("expected *GraphSession, got %T", session)
	}
}
