package httpfacade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	logging "github.com/op/go-logging"
)

func testFacade(t *testing.T) *Facade {
	t.Helper()
	log := logging.MustGetLogger("httpfacade_test")
	logging.SetLevel(logging.CRITICAL, "httpfacade_test")
	f, err := New(log, ProxyConfig{})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestExecuteDeleteTreatsMissingAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFacade(t)
	if err := f.ExecuteDelete(context.Background(), "u", "p", srv.URL+"/missing"); err != nil {
		t.Fatalf("ExecuteDelete on 404 = %v, want nil", err)
	}
}

func TestExecuteDeletePropagatesOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := testFacade(t)
	if err := f.ExecuteDelete(context.Background(), "u", "p", srv.URL+"/x"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestExecuteFollowRedirectsChain(t *testing.T) {
	var final string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop2", http.StatusFound)
	})
	mux.HandleFunc("/hop2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/done", http.StatusFound)
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	final = srv.URL + "/done"

	f := testFacade(t)
	resp, err := f.ExecuteFollowRedirects(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Request.URL.String() != final {
		t.Fatalf("final URL = %s, want %s", resp.Request.URL.String(), final)
	}
}

func TestExecuteFollowRedirectsExceedsMaxRedirects(t *testing.T) {
	hops := 0
	var mux http.ServeMux
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	f := testFacade(t)
	_, err := f.ExecuteFollowRedirects(context.Background(), srv.URL+"/loop")
	if err == nil {
		t.Fatal("expected TooManyRedirectsError")
	}
	if _, ok := err.(*TooManyRedirectsError); !ok {
		t.Fatalf("expected *TooManyRedirectsError, got %T: %v", err, err)
	}
	if hops <= MaxRedirects {
		t.Fatalf("hops = %d, want > %d", hops, MaxRedirects)
	}
}

func TestGetStatusReturnsCodeWithoutCredentials(t *testing.T) {
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, gotAuth = r.BasicAuth()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := testFacade(t)
	status, err := f.GetStatus(context.Background(), srv.URL+"/ews/exchange.asmx")
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
	if gotAuth {
		t.Fatal("GetStatus must not attach credentials")
	}
}

func TestExecuteSearchMethodRequiresMultiStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := testFacade(t)
	_, err := f.ExecuteSearchMethod(context.Background(), "u", "p", srv.URL+"/", "SELECT \"DAV:displayname\" FROM scope()")
	if err == nil {
		t.Fatal("expected error for non-207 response")
	}
}

func TestExecuteSearchMethodParsesMultiStatus(t *testing.T) {
	const body = `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/exchange/jsmith/</D:href>
    <D:propstat>
      <D:prop><D:displayname>Jane Smith</D:displayname></D:prop>
    </D:propstat>
  </D:response>
</D:multistatus>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := testFacade(t)
	responses, err := f.ExecuteSearchMethod(context.Background(), "u", "p", srv.URL+"/", "SELECT \"DAV:displayname\" FROM scope()")
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	if responses[0].Props["displayname"] != "Jane Smith" {
		t.Fatalf("displayname = %q, want Jane Smith", responses[0].Props["displayname"])
	}
}
