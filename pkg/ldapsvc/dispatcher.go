package ldapsvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmguessant/xchangeldap/pkg/ber"
	"github.com/dmguessant/xchangeldap/pkg/exchange"
	"github.com/dmguessant/xchangeldap/pkg/stats"
)

// handleRequest decodes one LDAPMessage frame and dispatches it to the
// matching Bind/Unbind/Search handler. messageID is parsed first so an
// error anywhere downstream can still be reported against the right
// request.
func (c *Conn) handleRequest(ctx context.Context, frame []byte) error {
	d := ber.NewDecoder(frame)
	if _, err := d.ParseSeq(nil); err != nil {
		return err
	}
	messageID, err := d.ParseInt()
	if err != nil {
		return err
	}
	operation, err := d.ParseSeq(nil)
	if err != nil {
		c.sendResult(messageID, Other, err.Error())
		return err
	}

	var handleErr error
	switch int(operation) {
	case ReqBind:
		handleErr = c.handleBind(ctx, messageID, d)
	case ReqUnbind:
		c.handleUnbind()
	case ReqSearch:
		handleErr = c.handleSearch(ctx, messageID, d)
	default:
		c.log.Debug(fmt.Sprintf("ldapsvc: unsupported operation 0x%x", operation))
		c.sendResult(messageID, Other, "Unsupported operation")
	}

	if handleErr != nil {
		c.sendResult(messageID, Other, handleErr.Error())
	}
	return nil
}

// handleBind implements the Bind state transition. A non-empty DN and
// password acquire an Exchange session; anything else is treated as an
// anonymous bind.
func (c *Conn) handleBind(ctx context.Context, messageID int, d *ber.Decoder) error {
	version, err := d.ParseInt()
	if err != nil {
		return err
	}
	c.version = version

	bindDN, err := d.ParseString(c.isV3())
	if err != nil {
		return err
	}
	password, err := d.ParseStringWithTag(ber.ClassContext, c.isV3())
	if err != nil {
		return err
	}

	stats.Frontend.Add("bind_reqs", 1)

	if bindDN != "" && password != "" {
		c.log.Debug(fmt.Sprintf("ldapsvc: bind request for %s", bindDN))
		session, err := c.factory.Acquire(ctx, bindDN, password)
		if err != nil {
			c.log.Warning(fmt.Sprintf("ldapsvc: bind failed for %s: %v", bindDN, err))
			c.sendBindResult(messageID, InvalidCredentials)
			return nil
		}
		c.session = session
		stats.Frontend.Add("bind_successes", 1)
		c.sendBindResult(messageID, Success)
		return nil
	}

	c.log.Debug("ldapsvc: anonymous bind")
	c.sendBindResult(messageID, Success)
	return nil
}

// handleUnbind releases the bound session, if any. Unbind carries no
// response on the wire.
func (c *Conn) handleUnbind() {
	stats.Frontend.Add("unbind_reqs", 1)
	if c.session != nil && c.factory != nil {
		c.factory.Release(c.session)
		c.session = nil
	}
}

// handleSearch implements the Search dispatcher: base-object lookups
// (Root DSE, base context, single uid) plus subtree GAL queries driven by
// the filter translator.
func (c *Conn) handleSearch(ctx context.Context, messageID int, d *ber.Decoder) error {
	dn, err := d.ParseString(c.isV3())
	if err != nil {
		return err
	}
	scope, err := d.ParseEnumeration()
	if err != nil {
		return err
	}
	if _, err := d.ParseEnumeration(); err != nil { // derefAliases, ignored
		return err
	}
	rawSizeLimit, err := d.ParseInt()
	if err != nil {
		return err
	}
	if _, err := d.ParseInt(); err != nil { // timeLimit, ignored
		return err
	}
	if _, err := d.ParseBoolean(); err != nil { // attrsOnly, ignored
		return err
	}
	sizeLimit := EffectiveSizeLimit(rawSizeLimit)

	stats.Frontend.Add("search_reqs", 1)
	c.log.Debug(fmt.Sprintf("ldapsvc: search base=%s scope=%d sizeLimit=%d", dn, scope, sizeLimit))

	size := 0
	switch {
	case scope == ScopeBaseObject && dn == "":
		size = 1
		c.sendEntry(messageID, "Root DSE", rootDSEAttrs())

	case scope == ScopeBaseObject && dn == BaseContext:
		size = 1
		c.sendEntry(messageID, BaseContext, c.baseContextAttrs())

	case scope == ScopeBaseObject && strings.HasPrefix(dn, "uid=") && strings.Contains(dn, ",") && c.session != nil:
		uid := dn[len("uid="):strings.Index(dn, ",")]
		persons, err := c.session.GalFind(ctx, "AN", uid)
		if err != nil {
			return err
		}
		size = len(persons)
		c.sendPersons(ctx, messageID, persons)

	case scope != ScopeBaseObject && strings.EqualFold(dn, BaseContext) && c.session != nil:
		criteria, err := ParseFilter(d, c.isV3())
		if err != nil {
			return err
		}
		if len(criteria) == 0 {
			c.log.Warning("ldapsvc: search filter has no supported criteria, nothing to search")
		}
		persons, err := c.collectPersons(ctx, criteria, sizeLimit)
		if err != nil {
			return err
		}
		size = len(persons)
		c.log.Debug(fmt.Sprintf("ldapsvc: search found %d results", size))
		c.sendPersons(ctx, messageID, persons)
	}

	if size == sizeLimit {
		c.sendResult(messageID, SizeLimitExceeded, "")
	} else {
		stats.Frontend.Add("search_successes", 1)
		c.sendResult(messageID, Success, "")
	}
	return nil
}

// collectPersons runs either the full-directory sweep (objectclass=* only)
// or a per-criterion GalFind, merging results by AN and stopping as soon as
// the effective size limit is reached.
func (c *Conn) collectPersons(ctx context.Context, criteria map[string]string, sizeLimit int) (map[string]exchange.Person, error) {
	persons := map[string]exchange.Person{}

	merge := func(code, value string) error {
		found, err := c.session.GalFind(ctx, code, value)
		if err != nil {
			return err
		}
		for _, p := range found {
			persons[p.AccountName()] = p
			if len(persons) == sizeLimit {
				return nil
			}
		}
		return nil
	}

	if criteria["objectclass"] == "*" {
		for _, letter := range SweepLetters() {
			if len(persons) >= sizeLimit {
				break
			}
			if err := merge("AN", letter); err != nil {
				return nil, err
			}
			if len(persons) == sizeLimit {
				break
			}
		}
		return persons, nil
	}

	for code, value := range criteria {
		if len(persons) >= sizeLimit {
			break
		}
		if err := merge(code, value); err != nil {
			return nil, err
		}
		if len(persons) == sizeLimit {
			break
		}
	}
	return persons, nil
}

// sendPersons enriches each record via GalLookup when the result set is
// small enough to afford it, projects attributes, and emits one
// LDAP_REP_SEARCH entry per person.
func (c *Conn) sendPersons(ctx context.Context, messageID int, persons map[string]exchange.Person) {
	for _, p := range persons {
		if len(persons) <= 10 && c.session != nil {
			if err := c.session.GalLookup(ctx, p); err != nil {
				c.log.Warning(fmt.Sprintf("ldapsvc: galLookup failed for %s: %v", p.AccountName(), err))
			}
		}
		attrs := ProjectPerson(p)
		dn := fmt.Sprintf("uid=%s,%s", attrs["uid"], BaseContext)
		c.sendEntry(messageID, dn, attrs)
	}
}

func rootDSEAttrs() map[string]entryValue {
	return map[string]entryValue{
		"objectClass":   "top",
		"namingContexts": BaseContext,
	}
}

func (c *Conn) baseContextAttrs() map[string]entryValue {
	return map[string]entryValue{
		"objectClass": []string{"top", "organizationalUnit"},
		"description": fmt.Sprintf("xchangeldap gateway for %s", c.gateway),
	}
}

func (c *Conn) sendEntry(messageID int, dn string, attrs map[string]entryValue) {
	encodeEntry(c.enc, messageID, dn, attrs, c.isV3())
	if err := c.writeMessage(); err != nil {
		c.log.Debug(fmt.Sprintf("ldapsvc: write error sending entry: %v", err))
	}
}

func (c *Conn) sendBindResult(messageID, status int) {
	c.sendResultOp(messageID, RepBind, status, "")
}

func (c *Conn) sendResult(messageID, status int, message string) {
	c.sendResultOp(messageID, RepResult, status, message)
}

func (c *Conn) sendResultOp(messageID, operation, status int, message string) {
	encodeResult(c.enc, messageID, operation, status, message, c.isV3())
	if err := c.writeMessage(); err != nil {
		c.log.Debug(fmt.Sprintf("ldapsvc: write error sending result: %v", err))
	}
}
