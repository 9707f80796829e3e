package listener

import (
	"context"
	"net"
	"testing"
	"time"

	logging "github.com/op/go-logging"
)

type echoConn struct{ raw net.Conn }

func (e *echoConn) Serve(ctx context.Context) {
	buf := make([]byte, 64)
	n, err := e.raw.Read(buf)
	if err != nil {
		return
	}
	e.raw.Write(buf[:n])
}

type echoFactory struct{}

func (echoFactory) NewConnection(raw net.Conn) Connection { return &echoConn{raw: raw} }

func testLogger() *logging.Logger {
	log := logging.MustGetLogger("listener_test")
	logging.SetLevel(logging.CRITICAL, "listener_test")
	return log
}

func TestServeAcceptsLoopbackAndEchoes(t *testing.T) {
	l := New(Config{ProtocolName: "TEST", BindAddress: "127.0.0.1", Port: 0}, echoFactory{}, testLogger())
	if err := l.Bind(); err != nil {
		t.Fatal(err)
	}
	addr := l.ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte("hello"))
	buf := make([]byte, 5)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("echo = %q, want hello", buf)
	}

	l.Stop()
}

func TestAllowedRejectsNonLoopbackByDefault(t *testing.T) {
	l := New(Config{ProtocolName: "TEST"}, echoFactory{}, testLogger())
	fake := &fakeAddrConn{addr: "203.0.113.5:4444"}
	if l.allowed(fake) {
		t.Fatal("expected non-loopback address to be refused")
	}
}

func TestAllowedAcceptsLinkLocalLoopbackException(t *testing.T) {
	l := New(Config{ProtocolName: "TEST"}, echoFactory{}, testLogger())
	fake := &fakeAddrConn{addr: "[fe80::1]:4444"}
	if !l.allowed(fake) {
		t.Fatal("expected fe80::1 to be allowed")
	}
}

func TestAllowedAcceptsAnyAddressWhenAllowRemote(t *testing.T) {
	l := New(Config{ProtocolName: "TEST", AllowRemote: true}, echoFactory{}, testLogger())
	fake := &fakeAddrConn{addr: "203.0.113.5:4444"}
	if !l.allowed(fake) {
		t.Fatal("expected AllowRemote to accept any address")
	}
}

type fakeAddrConn struct {
	net.Conn
	addr string
}

func (f *fakeAddrConn) RemoteAddr() net.Addr { return fakeAddr(f.addr) }

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }
