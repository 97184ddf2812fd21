package caldav

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/calcurse/calsync/internal/version"
	"github.com/imroc/req/v3"
)

const (
	contentTypeXML      = "application/xml; charset=utf-8"
	contentTypeCalendar = "text/calendar; charset=utf-8"
)

// Object is a single resource fetched from the remote collection.
type Object struct {
	ETag string
	Href string
	Data []byte
}

// Config holds everything the client needs to reach one collection.
type Config struct {
	// BaseURL is scheme://host of the CalDAV server.
	BaseURL string
	// Collection is the collection path on the server, with a trailing slash.
	Collection string
	Username   string
	Password   string
	// InsecureSSL disables certificate verification.
	InsecureSSL bool
	// Verbose includes the offending response body in protocol errors.
	Verbose bool
}

// Client is a typed CalDAV client scoped to a single collection. It issues
// no retries: a failed remote call is fatal to the reconciliation run.
type Client struct {
	http       *req.Client
	collection string
	verbose    bool
}

func New(cfg *Config) *Client {
	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetUserAgent("calsync/" + version.Version)

	if cfg.Username != "" && cfg.Password != "" {
		client.SetCommonBasicAuth(cfg.Username, cfg.Password)
	}
	if cfg.InsecureSSL {
		client.EnableInsecureSkipVerify()
	}

	return &Client{
		http:       client,
		collection: cfg.Collection,
		verbose:    cfg.Verbose,
	}
}

// Query builds the current {etag: href} index of the collection via a
// calendar-query report. A non-empty uid scopes the report to resources
// whose UID matches, used to confirm the etag of a just-created resource.
func (c *Client) Query(ctx context.Context, uid string) (map[string]string, error) {
	body, err := xml.Marshal(newCalendarQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("caldav: build calendar-query: %w", err)
	}

	resp, err := c.report(ctx, body)
	if err := handleError(resp, err, "calendar-query"); err != nil {
		return nil, err
	}

	return parseIndex(resp.Bytes(), c.verbose)
}

// MultiGet fetches the bodies of the given hrefs in a single
// calendar-multiget report.
func (c *Client) MultiGet(ctx context.Context, hrefs []string) ([]Object, error) {
	body, err := xml.Marshal(newCalendarMultiget(hrefs))
	if err != nil {
		return nil, fmt.Errorf("caldav: build calendar-multiget: %w", err)
	}

	resp, err := c.report(ctx, body)
	if err := handleError(resp, err, "calendar-multiget"); err != nil {
		return nil, err
	}

	return parseObjects(resp.Bytes(), c.verbose)
}

// Put creates or updates the resource at href. The returned etag is empty
// when the server omits it from the response; callers are expected to
// recover it with a scoped Query.
func (c *Client) Put(ctx context.Context, href string, ical []byte) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetContentType(contentTypeCalendar).
		SetBody(ical).
		Put(href)
	if err := handleError(resp, err, "put "+href); err != nil {
		return "", err
	}

	return trimETag(resp.Header.Get("ETag")), nil
}

// Delete removes the resource at href, conditional on its etag so a
// resource changed concurrently on the server is not blindly destroyed.
func (c *Client) Delete(ctx context.Context, href string, etag string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("If-Match", `"`+etag+`"`).
		Delete(href)
	return handleError(resp, err, "delete "+href)
}

// Wipe removes the whole collection.
func (c *Client) Wipe(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(c.collection)
	return handleError(resp, err, "wipe collection")
}

func (c *Client) report(ctx context.Context, body []byte) (*req.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetContentType(contentTypeXML).
		SetHeader("Depth", "1").
		SetBody(body).
		Send("REPORT", c.collection)
}
