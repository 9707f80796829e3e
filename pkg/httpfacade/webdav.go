package httpfacade

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmguessant/xchangeldap/pkg/stats"
)

// MultiStatusResponse is one <d:response> element of a WebDAV 207
// Multi-Status body: an href plus a flat map of property name to text
// content. Exchange's GAL SEARCH responses only ever need the property
// values as strings, so namespaced property parsing stays intentionally
// shallow rather than modeling the full DAV:prop schema.
type MultiStatusResponse struct {
	Href  string
	Props map[string]string
}

type multistatusXML struct {
	XMLName   xml.Name `xml:"multistatus"`
	Responses []struct {
		Href     string `xml:"href"`
		Propstat []struct {
			Prop struct {
				Any []struct {
					XMLName xml.Name
					Value   string `xml:",chardata"`
				} `xml:",any"`
			} `xml:"prop"`
		} `xml:"propstat"`
	} `xml:"response"`
}

// StatusError is the error buildHTTPError returns for a terminal HTTP
// status. Its message pre-translates Exchange's 440 quirk (session
// expired) into 403 Forbidden the way buildHttpException did.
type StatusError struct {
	Status int
	Text   string
}

func (e *StatusError) Error() string {
	if e.Status == 440 {
		return fmt.Sprintf("%d %s", http.StatusForbidden, http.StatusText(http.StatusForbidden))
	}
	return fmt.Sprintf("%d %s", e.Status, e.Text)
}

func buildHTTPError(resp *http.Response) error {
	return &StatusError{Status: resp.StatusCode, Text: http.StatusText(resp.StatusCode)}
}

// ExecuteSearchMethod issues a WebDAV SEARCH with the given SQL-like query,
// escaping &, < and > the same way the original facade did, and requires a
// 207 Multi-Status response.
func (f *Facade) ExecuteSearchMethod(ctx context.Context, user, password, path, sql string) ([]MultiStatusResponse, error) {
	body := "<?xml version=\"1.0\"?>\n" +
		"<d:searchrequest xmlns:d=\"DAV:\">\n" +
		"        <d:sql>" + escapeSQL(sql) + "</d:sql>\n" +
		"</d:searchrequest>"

	req, err := http.NewRequestWithContext(ctx, "SEARCH", path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	return f.executeDAV(user, password, req)
}

func escapeSQL(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// ExecutePropFind issues a PROPFIND for propNames at the given depth.
func (f *Facade) ExecutePropFind(ctx context.Context, user, password, path string, depth int, propNames []string) ([]MultiStatusResponse, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?><d:propfind xmlns:d="DAV:"><d:prop>`)
	for _, name := range propNames {
		buf.WriteString(fmt.Sprintf("<d:%s/>", name))
	}
	buf.WriteString(`</d:prop></d:propfind>`)

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("Depth", strconv.Itoa(depth))
	return f.executeDAV(user, password, req)
}

// ExecuteDelete issues DELETE and treats an already-missing resource (404)
// as success, keeping the operation idempotent.
func (f *Facade) ExecuteDelete(ctx context.Context, user, password, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	req = WithCredentials(req, user, password)
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return buildHTTPError(resp)
	}
	return nil
}

// executeDAV requires a 207 Multi-Status response and always releases the
// connection (drains and closes the body) before returning.
func (f *Facade) executeDAV(user, password string, req *http.Request) ([]MultiStatusResponse, error) {
	stats.Backend.Add("requests", 1)
	req = WithCredentials(req, user, password)
	resp, err := f.Client.Do(req)
	if err != nil {
		stats.Backend.Add("errors", 1)
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusMultiStatus {
		stats.Backend.Add("errors", 1)
		return nil, buildHTTPError(resp)
	}

	var parsed multistatusXML
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		stats.Backend.Add("errors", 1)
		return nil, fmt.Errorf("httpfacade: decoding multistatus body: %w", err)
	}

	out := make([]MultiStatusResponse, 0, len(parsed.Responses))
	for _, r := range parsed.Responses {
		props := map[string]string{}
		for _, ps := range r.Propstat {
			for _, prop := range ps.Prop.Any {
				props[prop.XMLName.Local] = prop.Value
			}
		}
		out = append(out, MultiStatusResponse{Href: r.Href, Props: props})
	}
	return out, nil
}
