package caldav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"
)

// Client pushes reminder calendars to a CalDAV server.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	transport    http.RoundTripper

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password string) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:   baseURL,
		username:  username,
		password:  password,
		transport: http.DefaultTransport,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// SetCalendarPath sets the calendar collection reminders are written to.
func (c *Client) SetCalendarPath(path string) {
	c.calendarPath = path
}

func (c *Client) CalendarPath() string {
	return c.calendarPath
}

// SetTransport replaces the HTTP transport under basic auth.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.transport = rt
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
			next:     c.transport,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	// Find the user's calendar home
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
			Description: cal.Description,
			Components:  cal.SupportedComponentSet,
		})
	}

	return result, nil
}

// ObjectPath is where the object with uid lives in the configured calendar.
func (c *Client) ObjectPath(uid string) (string, error) {
	if c.calendarPath == "" {
		return "", fmt.Errorf("calendar path not specified")
	}
	p := c.calendarPath
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + url.PathEscape(uid) + ".ics", nil
}

// PutObject creates or replaces one calendar object and returns its path.
func (c *Client) PutObject(ctx context.Context, uid string, cal *ical.Calendar) (string, error) {
	client, err := c.connect()
	if err != nil {
		return "", err
	}
	path, err := c.ObjectPath(uid)
	if err != nil {
		return "", err
	}
	if _, err := client.PutCalendarObject(ctx, path, cal); err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return path, nil
}

// DeleteObject removes a calendar object by path.
func (c *Client) DeleteObject(ctx context.Context, path string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if err := client.RemoveAll(ctx, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
