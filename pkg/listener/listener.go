// Package listener implements the protocol-neutral TCP/TLS accept loop:
// bind a socket, enforce the loopback-only policy, hand each accepted
// connection to a ConnectionFactory, and track spawned connections for
// graceful shutdown.
//
// A single type parameterized by a factory value stands in for one
// subclass per protocol, since SMTP/POP/IMAP/LDAP gateway servers differ
// only in which connection handler they hand an accepted socket to.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	logging "github.com/op/go-logging"
)

// Connection is anything a ConnectionFactory hands back to be served on
// its own goroutine until the client disconnects or the listener is
// stopped.
type Connection interface {
	Serve(ctx context.Context)
}

// ConnectionFactory builds a Connection around an accepted socket.
type ConnectionFactory interface {
	NewConnection(raw net.Conn) Connection
}

// Config holds the bind address, port, and remote-access policy for one
// protocol listener.
type Config struct {
	ProtocolName    string
	BindAddress     string // empty binds all interfaces
	Port            int
	AllowRemote     bool // davmail.allowRemote
	ClientSoTimeout time.Duration
	TLSConfig       *tls.Config // nil binds plaintext
}

// Listener owns the bound socket and the set of connections it has
// spawned, closing them on Stop.
type Listener struct {
	cfg     Config
	factory ConnectionFactory
	log     *logging.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

func New(cfg Config, factory ConnectionFactory, log *logging.Logger) *Listener {
	return &Listener{
		cfg:     cfg,
		factory: factory,
		log:     log,
		conns:   map[net.Conn]struct{}{},
	}
}

// Bind creates the listening socket, TLS-wrapped when cfg.TLSConfig is
// set. It does not start accepting connections; call Serve for that.
func (l *Listener) Bind() error {
	addr := fmt.Sprintf("%s:%d", l.cfg.BindAddress, l.cfg.Port)

	var ln net.Listener
	var err error
	if l.cfg.TLSConfig != nil {
		ln, err = tls.Listen("tcp", addr, l.cfg.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("listener: bind %s on %s failed: %w", l.cfg.ProtocolName, addr, err)
	}
	l.ln = ln
	return nil
}

// Serve runs the accept loop until ctx is cancelled or Stop is called.
// It never returns an error for an intentional close triggered by Stop.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Stop()
	}()

	for {
		raw, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("listener: accept on %s: %w", l.cfg.ProtocolName, err)
		}

		if l.cfg.ClientSoTimeout > 0 {
			raw.SetDeadline(time.Now().Add(l.cfg.ClientSoTimeout))
		}

		if !l.allowed(raw) {
			l.log.Warning(fmt.Sprintf("listener: refused non-loopback connection from %s", raw.RemoteAddr()))
			raw.Close()
			continue
		}

		l.log.Debug(fmt.Sprintf("listener: %s connection from %s", l.cfg.ProtocolName, raw.RemoteAddr()))
		l.track(raw)
		conn := l.factory.NewConnection(raw)
		go func() {
			defer l.untrack(raw)
			conn.Serve(ctx)
		}()
	}
}

// allowed enforces the loopback-only policy, including the OS X
// link-local-on-loopback exception (fe80::1).
func (l *Listener) allowed(raw net.Conn) bool {
	if l.cfg.AllowRemote {
		return true
	}
	host, _, err := net.SplitHostPort(raw.RemoteAddr().String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	return ip.Equal(net.ParseIP("fe80::1"))
}

func (l *Listener) track(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[c] = struct{}{}
}

func (l *Listener) untrack(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
}

// Stop closes the listening socket (unblocking Accept) and every
// currently tracked connection. Safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.ln != nil {
		if err := l.ln.Close(); err != nil {
			l.log.Warning(fmt.Sprintf("listener: closing %s socket: %s", l.cfg.ProtocolName, err))
		}
	}
	for c := range l.conns {
		c.Close()
	}
}
