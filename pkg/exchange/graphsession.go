package exchange

import (
	"context"
	"fmt"
	"net/http"

	msgraph "github.com/yaegashi/msgraph.go/v1.0"
)

// graphAuthTransport injects basic auth on every request, since msgraph.go
// takes a plain *http.Client rather than a credential-aware one.
type graphAuthTransport struct {
	user, password string
	inner          http.RoundTripper
}

func (t *graphAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.user, t.password)
	return t.inner.RoundTrip(req)
}

// GraphSession is the alternate GalFind/GalLookup backend selected by
// davmail.backend = "graph": it queries Azure AD / Microsoft Graph's user
// directory instead of Exchange's WebDAV GAL folder.
type GraphSession struct {
	client *msgraph.GraphServiceRequestBuilder
}

func newGraphSession(baseURL, user, password string) *GraphSession {
	httpClient := &http.Client{
		Transport: &graphAuthTransport{user: user, password: password, inner: http.DefaultTransport},
	}
	g := msgraph.NewClient(httpClient)
	g.SetURL(baseURL)
	return &GraphSession{client: g}
}

// GalFind filters Graph's /users collection, projecting results into the
// same GAL person-record shape the WebDAV backend returns so the LDAP
// core never needs to know which backend is in play.
func (s *GraphSession) GalFind(ctx context.Context, code, value string) (map[string]Person, error) {
	filterProp, ok := graphFilterProps[code]
	if !ok {
		return nil, fmt.Errorf("exchange: unknown GAL search code %q", code)
	}

	req := s.client.Users().Request()
	req.Filter(fmt.Sprintf("startswith(%s,'%s')", filterProp, escapeODataLiteral(value)))
	users, err := req.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange: graph galFind(%s, %s): %w", code, value, err)
	}

	out := make(map[string]Person, len(users))
	for i := range users {
		p := projectGraphUser(&users[i])
		an := p.AccountName()
		if an == "" {
			continue
		}
		out[an] = p
	}
	return out, nil
}

// GalLookup re-fetches the user by ID to fill the extended fields, since
// the initial GalFind response only projects the GAL summary columns.
func (s *GraphSession) GalLookup(ctx context.Context, person Person) error {
	an := person.AccountName()
	if an == "" {
		return fmt.Errorf("exchange: galLookup requires an AN field")
	}
	u, err := s.client.Users().ID(an).Request().Get(ctx)
	if err != nil {
		return fmt.Errorf("exchange: graph galLookup(%s): %w", an, err)
	}
	for k, v := range projectGraphUser(u) {
		person[k] = v
	}
	return nil
}

func (s *GraphSession) Close() error { return nil }

var graphFilterProps = map[string]string{
	"AN": "userPrincipalName",
	"FN": "givenName",
	"LN": "surname",
	"DN": "displayName",
	"TL": "jobTitle",
	"CP": "companyName",
	"OF": "officeLocation",
	"DP": "department",
}

func projectGraphUser(u *msgraph.User) Person {
	p := Person{}
	set := func(key string, v *string) {
		if v != nil {
			p[key] = *v
		}
	}
	if u.UserPrincipalName != nil {
		p["AN"] = *u.UserPrincipalName
	}
	set("DN", u.DisplayName)
	set("EM", u.Mail)
	set("PH", u.MobilePhone)
	set("CP", u.CompanyName)
	set("TL", u.JobTitle)
	set("OFFICE", u.OfficeLocation)
	set("first", u.GivenName)
	set("last", u.Surname)
	set("department", u.Department)
	set("mobile", u.MobilePhone)
	return p
}

func escapeODataLiteral(s string) string {
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			result = append(result, '\'', '\'')
			continue
		}
		result = append(result, s[i])
	}
	return string(result)
}
