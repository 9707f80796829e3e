package ldapsvc

import (
	"context"
	"net"
	"testing"
	"time"

	logging "github.com/op/go-logging"

	"github.com/dmguessant/xchangeldap/pkg/ber"
	"github.com/dmguessant/xchangeldap/pkg/exchange"
)

func testLogger() *logging.Logger {
	log := logging.MustGetLogger("ldapsvc_test")
	logging.SetLevel(logging.CRITICAL, "ldapsvc_test")
	return log
}

type fakeSession struct {
	galFind   func(ctx context.Context, code, value string) (map[string]exchange.Person, error)
	lookups   []string
}

func (f *fakeSession) GalFind(ctx context.Context, code, value string) (map[string]exchange.Person, error) {
	return f.galFind(ctx, code, value)
}

func (f *fakeSession) GalLookup(ctx context.Context, p exchange.Person) error {
	f.lookups = append(f.lookups, p.AccountName())
	p["first"] = "Enriched"
	return nil
}

func (f *fakeSession) Close() error { return nil }

type fakeFactory struct {
	session   exchange.Session
	acquireOK bool
	released  []exchange.Session
}

func (f *fakeFactory) Acquire(ctx context.Context, user, password string) (exchange.Session, error) {
	if !f.acquireOK {
		return nil, &exchange.AuthFailedError{User: user}
	}
	return f.session, nil
}

func (f *fakeFactory) Release(s exchange.Session) {
	f.released = append(f.released, s)
}

// clientDialog drives one half of a net.Pipe as a fake LDAP client: it
// writes a raw frame and reads back exactly one response frame.
type clientDialog struct {
	conn net.Conn
}

func (c *clientDialog) send(frame []byte) {
	c.conn.Write(frame)
}

func (c *clientDialog) recv(t *testing.T) []byte {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hdr [2]byte
	if _, err := readFull(c.conn, hdr[:]); err != nil {
		t.Fatalf("reading response header: %v", err)
	}
	length := int(hdr[1])
	content := make([]byte, length)
	if _, err := readFull(c.conn, content); err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	out := append([]byte{}, hdr[:]...)
	return append(out, content...)
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func bindFrame(messageID, version int, dn, password string) []byte {
	e := ber.NewEncoder()
	e.BeginSeq(ber.TagSequenceOf)
	e.EncodeInt(messageID)
	e.BeginSeq(ReqBind)
	e.EncodeInt(version)
	e.EncodeString(dn, version == Version3)
	e.EncodeStringWithTag(ber.ClassContext, password, version == Version3)
	e.EndSeq()
	e.EndSeq()
	return e.Bytes()
}

func rootDSESearchFrame(messageID int) []byte {
	e := ber.NewEncoder()
	e.BeginSeq(ber.TagSequenceOf)
	e.EncodeInt(messageID)
	e.BeginSeq(ReqSearch)
	e.EncodeString("", true)
	e.EncodeEnum(ScopeBaseObject)
	e.EncodeEnum(0)
	e.EncodeInt(0)
	e.EncodeInt(0)
	e.EncodeBoolean(false)
	e.EndSeq()
	e.EndSeq()
	return e.Bytes()
}

func TestAnonymousBindAndRootDSE(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	c := NewConn(serverSide, testLogger(), &fakeFactory{}, "https://mail.example.com/EWS")
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()

	client := &clientDialog{conn: clientSide}
	client.send(bindFrame(1, Version3, "", ""))
	bindResp := client.recv(t)

	d := ber.NewDecoder(bindResp)
	d.ParseSeq(nil)
	msgID, _ := d.ParseInt()
	if msgID != 1 {
		t.Fatalf("bind response messageID = %d, want 1", msgID)
	}
	op, _ := d.ParseSeq(nil)
	if op != RepBind {
		t.Fatalf("bind response op = 0x%x, want 0x%x", op, RepBind)
	}
	status, _ := d.ParseEnumeration()
	if status != Success {
		t.Fatalf("bind status = %d, want 0 (success)", status)
	}

	client.send(rootDSESearchFrame(2))
	entryResp := client.recv(t)
	d2 := ber.NewDecoder(entryResp)
	d2.ParseSeq(nil)
	if id, _ := d2.ParseInt(); id != 2 {
		t.Fatalf("entry messageID = %d, want 2", id)
	}
	op2, _ := d2.ParseSeq(nil)
	if op2 != RepSearch {
		t.Fatalf("expected RepSearch, got 0x%x", op2)
	}
	dn, _ := d2.ParseString(true)
	if dn != "Root DSE" {
		t.Fatalf("dn = %q, want Root DSE", dn)
	}

	resultResp := client.recv(t)
	d3 := ber.NewDecoder(resultResp)
	d3.ParseSeq(nil)
	d3.ParseInt()
	op3, _ := d3.ParseSeq(nil)
	if op3 != RepResult {
		t.Fatalf("expected RepResult, got 0x%x", op3)
	}
	resStatus, _ := d3.ParseEnumeration()
	if resStatus != Success {
		t.Fatalf("result status = %d, want success", resStatus)
	}

	clientSide.Close()
	<-done
}

func TestBindWithBadCredentialsReturnsInvalidCredentials(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	factory := &fakeFactory{acquireOK: false}
	c := NewConn(serverSide, testLogger(), factory, "https://mail.example.com/EWS")
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()

	client := &clientDialog{conn: clientSide}
	client.send(bindFrame(1, Version3, "jsmith", "wrongpassword"))
	resp := client.recv(t)

	d := ber.NewDecoder(resp)
	d.ParseSeq(nil)
	d.ParseInt()
	d.ParseSeq(nil)
	status, _ := d.ParseEnumeration()
	if status != InvalidCredentials {
		t.Fatalf("status = %d, want %d (InvalidCredentials)", status, InvalidCredentials)
	}

	clientSide.Close()
	<-done
}

func TestSizeLimitCeiling(t *testing.T) {
	persons := map[string]exchange.Person{}
	for i := 0; i < 200; i++ {
		an := string(rune('A'+i%26)) + string(rune('0'+i%10)) + string(rune(i))
		persons[an] = exchange.Person{"AN": an, "EM": an + "@example.com"}
	}

	session := &fakeSession{
		galFind: func(ctx context.Context, code, value string) (map[string]exchange.Person, error) {
			return persons, nil
		},
	}
	factory := &fakeFactory{acquireOK: true, session: session}

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	c := NewConn(serverSide, testLogger(), factory, "https://mail.example.com/EWS")
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()

	client := &clientDialog{conn: clientSide}
	client.send(bindFrame(1, Version3, "jsmith", "secret"))
	client.recv(t) // bind response

	frame := presentFilterSearchFrame(2, "objectclass", 500)

	client.send(frame)
	entries := 0
	for {
		resp := client.recv(t)
		d := ber.NewDecoder(resp)
		d.ParseSeq(nil)
		d.ParseInt()
		op, _ := d.ParseSeq(nil)
		if op == RepResult {
			status, _ := d.ParseEnumeration()
			if status != SizeLimitExceeded {
				t.Fatalf("result status = %d, want %d", status, SizeLimitExceeded)
			}
			break
		}
		entries++
		if entries > 100 {
			t.Fatal("too many entries emitted, size limit not enforced")
		}
	}
	if entries != 100 {
		t.Fatalf("entries = %d, want 100", entries)
	}

	clientSide.Close()
	<-done
}

func presentFilterSearchFrame(messageID int, attr string, sizeLimit int) []byte {
	e := ber.NewEncoder()
	e.BeginSeq(ber.TagSequenceOf)
	e.EncodeInt(messageID)
	e.BeginSeq(ReqSearch)
	e.EncodeString(BaseContext, true)
	e.EncodeEnum(ScopeSubtree)
	e.EncodeEnum(0)
	e.EncodeInt(sizeLimit)
	e.EncodeInt(0)
	e.EncodeBoolean(false)
	e.EncodeStringWithTag(FilterPresent, attr, true)
	e.EndSeq()
	e.EndSeq()
	return e.Bytes()
}
