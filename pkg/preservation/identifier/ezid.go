// Package identifier talks to an EZID-compatible identifier service.
package identifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

// ErrUnexpectedResponse is returned for responses the client cannot interpret
var ErrUnexpectedResponse = errors.New("unexpected identifier service response")

// Client is an EZID-style identifier client. It can be shared between
// goroutines.
type Client struct {
	// BaseURL of the service, e.g. https://ezid.cdlib.org
	BaseURL string
	// Shoulder new identifiers are minted under, e.g. ark:/99999/fk4
	Shoulder string
	Username string
	Password string

	HTTPClient *http.Client
}

var _ preservation.IdentifierService = (*Client)(nil)

// New creates a client with a bounded request timeout.
func New(baseURL, shoulder, username, password string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Shoulder:   shoulder,
		Username:   username,
		Password:   password,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// Exists reports whether id is registered. Unknown identifiers return an
// error wrapping preservation.ErrIdentifierNotFound; transport failures and
// server errors are returned as is so callers may retry them.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/id/"+escapeID(id), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", id, err)
	}
	defer resp.Body.Close()

	fields, readErr := parseANVL(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: %s", preservation.ErrIdentifierNotFound, id)
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(fields["error"], "no such identifier"):
		return false, fmt.Errorf("%w: %s", preservation.ErrIdentifierNotFound, id)
	case readErr != nil:
		return false, fmt.Errorf("%w: status %d looking up %s: reading body: %w", ErrUnexpectedResponse, resp.StatusCode, id, readErr)
	default:
		return false, fmt.Errorf("%w: status %d looking up %s", ErrUnexpectedResponse, resp.StatusCode, id)
	}
}

// Mint registers a new identifier under the shoulder.
func (c *Client) Mint(ctx context.Context) (string, error) {
	if c.Shoulder == "" {
		return "", errors.New("identifier shoulder is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/shoulder/"+escapeID(c.Shoulder), strings.NewReader("_status: reserved\n"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain; charset=UTF-8")
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("minting under %s: %w", c.Shoulder, err)
	}
	defer resp.Body.Close()

	fields, err := parseANVL(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d minting under %s: %s", ErrUnexpectedResponse, resp.StatusCode, c.Shoulder, fields["error"])
	}
	success := fields["success"]
	if success == "" {
		return "", fmt.Errorf("%w: no identifier in mint response", ErrUnexpectedResponse)
	}
	// DOI shoulders answer "doi:... | ark:..."
	id, _, _ := strings.Cut(success, "|")
	return strings.TrimSpace(id), nil
}

// escapeID percent-encodes an identifier for use in a path, keeping the
// separators EZID expects.
func escapeID(id string) string {
	return strings.NewReplacer("%3A", ":", "%2F", "/").Replace(url.PathEscape(id))
}

// parseANVL reads "name: value" lines.
func parseANVL(r io.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return fields, scanner.Err()
}
