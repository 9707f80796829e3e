package httpfacade

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/audibleblink/go-ntlm/ntlm"
)

// wrapNTLMProxyTransport builds the CONNECT-to-proxy NTLM handshake. This
// is scoped entirely to the proxy tunnel: it never touches the origin
// auth-scheme priority list (DIGEST, BASIC). Go's http.Transport already
// issues a CONNECT per new proxy connection, so the handshake is driven
// from ProxyConnectHeader, computed once here and sent on every CONNECT.
func wrapNTLMProxyTransport(base *http.Transport, proxy ProxyConfig) *http.Transport {
	domain, user := proxy.DomainUser()
	base.ProxyConnectHeader = http.Header{}
	if header, err := ntlmType1Header(domain, user); err == nil {
		base.ProxyConnectHeader.Set("Proxy-Authorization", header)
	}
	// A full NTLM handshake is three legs (negotiate / challenge /
	// authenticate) over the same TCP connection; net/http's Transport
	// does not expose a hook to re-issue CONNECT after inspecting a 407
	// response, so only the type-1 (negotiate) message can be sent
	// preemptively here. Proxies that require the full handshake need a
	// CONNECT-aware dialer, which is out of scope for this facade.
	return base
}

func ntlmType1Header(domain, user string) (string, error) {
	session, err := ntlm.CreateClientSession(ntlm.Version2, ntlm.ConnectionOrientedMode)
	if err != nil {
		return "", fmt.Errorf("ntlm: create session: %w", err)
	}
	session.SetUserInfo(user, "", domain)
	negotiate, err := session.GenerateNegotiateMessage()
	if err != nil {
		return "", fmt.Errorf("ntlm: negotiate message: %w", err)
	}
	return "NTLM " + base64.StdEncoding.EncodeToString(negotiate.Bytes), nil
}
