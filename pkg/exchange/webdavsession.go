package exchange

import (
	"context"
	"fmt"
	"strings"

	logging "github.com/op/go-logging"

	"github.com/dmguessant/xchangeldap/pkg/httpfacade"
)

// galFindColumns maps the one-or-two-letter GAL codes session.GalFind
// searches on to the WebDAV SQL column names Exchange's GAL folder
// exposes them under.
var galFindColumns = map[string]string{
	"AN": "\"http://schemas.microsoft.com/mapi/proptag/x3a00001e\"", // PR_ACCOUNT
	"FN": "\"urn:schemas:contacts:givenName\"",
	"LN": "\"urn:schemas:contacts:sn\"",
	"DN": "\"urn:schemas:contacts:cn\"",
	"TL": "\"urn:schemas:contacts:title\"",
	"CP": "\"urn:schemas:contacts:o\"",
	"OF": "\"urn:schemas:contacts:otherfacsimiletelephonenumber\"",
	"DP": "\"urn:schemas:contacts:department\"",
}

// galColumns are the base GAL columns every galFind result row carries.
var galColumns = []string{
	"\"http://schemas.microsoft.com/mapi/proptag/x3a00001e\" AS AN",
	"\"urn:schemas:contacts:cn\" AS DN",
	"\"urn:schemas:contacts:email1\" AS EM",
	"\"urn:schemas:contacts:telephonenumber\" AS PH",
	"\"urn:schemas:contacts:o\" AS CP",
	"\"urn:schemas:contacts:title\" AS TL",
	"\"urn:schemas:contacts:otherfacsimiletelephonenumber\" AS OFFICE",
}

// galLookupColumns are the extended fields galLookup fills in.
var galLookupColumns = []string{
	"\"urn:schemas:contacts:givenName\" AS first",
	"\"urn:schemas:contacts:initials\" AS initials",
	"\"urn:schemas:contacts:sn\" AS last",
	"\"urn:schemas:contacts:street\" AS street",
	"\"urn:schemas:contacts:st\" AS state",
	"\"urn:schemas:contacts:postalcode\" AS zip",
	"\"urn:schemas:contacts:c\" AS country",
	"\"urn:schemas:contacts:department\" AS department",
	"\"urn:schemas:contacts:mobile\" AS mobile",
}

// WebdavSession is the default Session implementation: GAL lookups go
// through WebDAV SEARCH/PROPFIND against the configured Exchange GAL
// folder.
type WebdavSession struct {
	facade   *httpfacade.Facade
	log      *logging.Logger
	user     string
	password string
	galURL   string
}

func newWebdavSession(facade *httpfacade.Facade, log *logging.Logger, user, password, baseURL string) *WebdavSession {
	galURL := strings.TrimSuffix(baseURL, "/") + "/exchange/" + user + "/GAL/"
	return &WebdavSession{facade: facade, log: log, user: user, password: password, galURL: galURL}
}

// GalFind runs a single-criterion case-insensitive GAL search, returning
// results keyed by account name.
func (s *WebdavSession) GalFind(ctx context.Context, code, value string) (map[string]Person, error) {
	column, ok := galFindColumns[code]
	if !ok {
		return nil, fmt.Errorf("exchange: unknown GAL search code %q", code)
	}
	sql := fmt.Sprintf(
		"SELECT %s FROM SCOPE('SHALLOW TRAVERSAL OF \"%s\"') WHERE %s LIKE '%s%%'",
		strings.Join(galColumns, ", "), s.galURL, column, escapeSQLLiteral(strings.ToLower(value)),
	)

	rows, err := s.facade.ExecuteSearchMethod(ctx, s.user, s.password, s.galURL, sql)
	if err != nil {
		return nil, fmt.Errorf("exchange: galFind(%s, %s): %w", code, value, err)
	}

	out := make(map[string]Person, len(rows))
	for _, row := range rows {
		p := Person(row.Props)
		an := p.AccountName()
		if an == "" {
			continue
		}
		out[an] = p
	}
	return out, nil
}

// GalLookup enriches person in place with the extended fields a plain
// GalFind does not populate (first, initials, last, street, state, zip,
// country, department, mobile).
func (s *WebdavSession) GalLookup(ctx context.Context, person Person) error {
	an := person.AccountName()
	if an == "" {
		return fmt.Errorf("exchange: galLookup requires an AN field")
	}
	sql := fmt.Sprintf(
		"SELECT %s FROM SCOPE('SHALLOW TRAVERSAL OF \"%s\"') WHERE %s = '%s'",
		strings.Join(galLookupColumns, ", "), s.galURL, galFindColumns["AN"], escapeSQLLiteral(an),
	)

	rows, err := s.facade.ExecuteSearchMethod(ctx, s.user, s.password, s.galURL, sql)
	if err != nil {
		return fmt.Errorf("exchange: galLookup(%s): %w", an, err)
	}
	if len(rows) == 0 {
		return nil
	}
	for k, v := range rows[0].Props {
		person[k] = v
	}
	return nil
}

func (s *WebdavSession) Close() error {
	return nil
}

func escapeSQLLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
