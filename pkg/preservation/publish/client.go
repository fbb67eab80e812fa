// Package publish pushes items to a public site over HTTP.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

// Client publishes items to an HTTP endpoint. Publishing POSTs the item to
// {BaseURL}/items; unpublishing DELETEs {BaseURL}/items/{unique identifier}.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

var _ preservation.Publisher = (*Client)(nil)

// New creates a publishing client.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Payload is the document sent to the public site.
type Payload struct {
	UniqueIdentifier    string                 `json:"unique_identifier"`
	HumanReadableName   string                 `json:"human_readable_name"`
	DescriptiveMetadata map[string]interface{} `json:"descriptive_metadata"`
	ViewingDirection    string                 `json:"viewing_direction,omitempty"`
	ViewingHint         string                 `json:"viewing_hint,omitempty"`
	Thumbnail           *AssetPayload          `json:"thumbnail,omitempty"`
	Assets              []AssetPayload         `json:"assets"`
}

// AssetPayload describes one published asset in display order.
type AssetPayload struct {
	ID          uuid.UUID                       `json:"id"`
	Filename    string                          `json:"filename"`
	Label       string                          `json:"label,omitempty"`
	Arranged    bool                            `json:"arranged"`
	Width       int                             `json:"width,omitempty"`
	Height      int                             `json:"height,omitempty"`
	Derivatives map[string]preservation.FileRef `json:"derivatives,omitempty"`
}

// NewPayload builds the published document. Arranged assets come first in
// their arranged order, followed by the rest.
func NewPayload(item *preservation.Item, assets []*preservation.Asset) Payload {
	byID := make(map[uuid.UUID]*preservation.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	p := Payload{
		UniqueIdentifier:    item.UniqueIdentifier,
		HumanReadableName:   item.HumanReadableName,
		DescriptiveMetadata: item.DescriptiveMetadata,
		ViewingDirection:    item.StructuralMetadata.ViewingDirection,
		ViewingHint:         item.StructuralMetadata.ViewingHint,
		Assets:              make([]AssetPayload, 0, len(assets)),
	}

	seen := make(map[uuid.UUID]bool, len(assets))
	add := func(id uuid.UUID, arranged bool) {
		a, ok := byID[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		p.Assets = append(p.Assets, assetPayload(a, arranged))
	}
	for _, id := range item.StructuralMetadata.ArrangedAssetIDs {
		add(id, true)
	}
	for _, id := range item.AssetIDs {
		add(id, false)
	}

	if thumb, ok := byID[item.ThumbnailAssetID]; ok {
		tp := assetPayload(thumb, false)
		p.Thumbnail = &tp
	}
	return p
}

func assetPayload(a *preservation.Asset, arranged bool) AssetPayload {
	ap := AssetPayload{
		ID:       a.ID,
		Filename: a.OriginalFilename,
		Label:    a.Label,
		Arranged: arranged,
		Width:    a.TechnicalMetadata.Width,
		Height:   a.TechnicalMetadata.Height,
	}
	for _, d := range a.Derivatives {
		if d.Stale {
			continue
		}
		if ap.Derivatives == nil {
			ap.Derivatives = make(map[string]preservation.FileRef)
		}
		ap.Derivatives[string(d.Type)] = d.File
	}
	return ap
}

// Publish implements preservation.Publisher.
func (c *Client) Publish(ctx context.Context, item *preservation.Item, assets []*preservation.Asset) error {
	body, err := json.Marshal(NewPayload(item, assets))
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", preservation.ErrPublish, item.UniqueIdentifier, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/items", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", preservation.ErrPublish, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, item.UniqueIdentifier)
}

// Unpublish implements preservation.Publisher.
func (c *Client) Unpublish(ctx context.Context, item *preservation.Item) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/items/"+url.PathEscape(item.UniqueIdentifier), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", preservation.ErrPublish, err)
	}
	return c.send(req, item.UniqueIdentifier)
}

func (c *Client) send(req *http.Request, id string) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", preservation.ErrPublish, req.Method, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s: status %d: %s", preservation.ErrPublish, req.Method, id, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
