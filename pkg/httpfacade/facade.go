// Package httpfacade provides the single, process-wide pooled HTTP client
// every Exchange-facing component shares: fixed User-Agent, proxy and
// authentication policy, manual redirect following, WebDAV helpers and an
// idle-connection reaper.
package httpfacade

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	logging "github.com/op/go-logging"
)

// UserAgent is fixed to the IE6 string Exchange's OWA/EWS back end expects
// before it will return XML rather than an HTML login page.
const UserAgent = "Mozilla/4.0 (compatible; MSIE 6.0; Windows NT 5.1; SV1)"

// MaxRedirects bounds the manual redirect-following loop.
const MaxRedirects = 10

// IdleCloseThreshold is how long an idle pooled connection survives before
// the Transport closes it, and the interval at which the reaper wakes.
const IdleCloseThreshold = 60 * time.Second

// maxConnsPerHost matches the original pool's per-host connection cap.
const maxConnsPerHost = 100

// ProxyConfig carries davmail.enableProxy/proxyHost/proxyPort/proxyUser/
// proxyPassword. A ProxyUser containing a backslash ("DOMAIN\\user") is
// treated as an NTLM proxy credential; otherwise, when a Password is set,
// User and Password go into the proxy URL and are sent as basic proxy auth.
type ProxyConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
}

// IsNTLM reports whether ProxyUser is of the form DOMAIN\user.
func (p ProxyConfig) IsNTLM() bool { return strings.Contains(p.User, `\`) }

// DomainUser splits a DOMAIN\user proxy credential. If there is no
// backslash, domain is empty and user is the whole string.
func (p ProxyConfig) DomainUser() (domain, user string) {
	if i := strings.IndexByte(p.User, '\\'); i >= 0 {
		return p.User[:i], p.User[i+1:]
	}
	return "", p.User
}

// Facade is the shared pooled client. It is created once at startup and
// passed to every Exchange session; Stop() is idempotent and safe to call
// from the reaper and from shutdown concurrently.
type Facade struct {
	Client *http.Client

	log    *logging.Logger
	reaper *reaper
}

// New builds a Facade with a connection pool capped at maxConnsPerHost per
// host, DIGEST-then-BASIC origin auth (never NTLM), and optional NTLM/basic
// proxy credentials.
func New(log *logging.Logger, proxy ProxyConfig) (*Facade, error) {
	transport := &http.Transport{
		MaxConnsPerHost:     maxConnsPerHost,
		MaxIdleConnsPerHost: maxConnsPerHost,
		IdleConnTimeout:     IdleCloseThreshold,
	}

	if proxy.Enabled {
		proxyURL, err := buildProxyURL(proxy)
		if err != nil {
			return nil, fmt.Errorf("httpfacade: invalid proxy configuration: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		if proxy.IsNTLM() {
			transport = wrapNTLMProxyTransport(transport, proxy)
		}
	}

	var rt http.RoundTripper = transport
	rt = &userAgentTransport{inner: rt}
	rt = &digestOrBasicTransport{inner: rt, log: log}

	client := &http.Client{
		Transport: rt,
		// The facade follows redirects manually (see redirect.go); the
		// standard library's own GET-based redirect handling is disabled
		// here to avoid double-following.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	f := &Facade{Client: client, log: log}
	f.reaper = newReaper(transport, log)
	return f, nil
}

func buildProxyURL(p ProxyConfig) (*url.URL, error) {
	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Password != "" && !p.IsNTLM() {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u, nil
}

// Start launches the idle-connection reaper. Safe to call once per Facade.
func (f *Facade) Start() { f.reaper.start() }

// Stop shuts the reaper down and closes all pooled connections. Idempotent.
func (f *Facade) Stop() { f.reaper.stop() }

// userAgentTransport forces the fixed IE6 User-Agent on every request.
type userAgentTransport struct {
	inner http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.inner.RoundTrip(req)
}
