package publish_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/publish"
)

func fixture() (*preservation.Item, []*preservation.Asset) {
	front := &preservation.Asset{ID: uuid.New(), OriginalFilename: "front.tif", Label: "Front"}
	back := &preservation.Asset{ID: uuid.New(), OriginalFilename: "back.tif"}
	extra := &preservation.Asset{
		ID:               uuid.New(),
		OriginalFilename: "notes.tif",
		Derivatives: []preservation.Derivative{
			{Type: preservation.DerivativeThumbnail, File: preservation.FileRef{Storage: "derivatives", Key: "t.jpg"}},
			{Type: preservation.DerivativeAccess, File: preservation.FileRef{Storage: "derivatives", Key: "a.jpg"}, Stale: true},
		},
	}
	item := &preservation.Item{
		ID:                  uuid.New(),
		UniqueIdentifier:    "ark:/99999/fk4item",
		HumanReadableName:   "Letter",
		DescriptiveMetadata: map[string]interface{}{"title": "Letter"},
		StructuralMetadata: preservation.StructuralMetadata{
			ArrangedAssetIDs: []uuid.UUID{back.ID, front.ID},
		},
		AssetIDs:         []uuid.UUID{front.ID, back.ID, extra.ID},
		ThumbnailAssetID: back.ID,
	}
	return item, []*preservation.Asset{front, back, extra}
}

func TestNewPayload(t *testing.T) {
	item, assets := fixture()
	p := publish.NewPayload(item, assets)

	require.Len(t, p.Assets, 3)
	assert.Equal(t, "back.tif", p.Assets[0].Filename)
	assert.True(t, p.Assets[0].Arranged)
	assert.Equal(t, "front.tif", p.Assets[1].Filename)
	assert.Equal(t, "notes.tif", p.Assets[2].Filename)
	assert.False(t, p.Assets[2].Arranged)

	// stale derivatives are not published
	assert.Equal(t, map[string]preservation.FileRef{"thumbnail": {Storage: "derivatives", Key: "t.jpg"}}, p.Assets[2].Derivatives)

	require.NotNil(t, p.Thumbnail)
	assert.Equal(t, "back.tif", p.Thumbnail.Filename)
}

func TestClient_Publish(t *testing.T) {
	var received publish.Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/items":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodDelete && r.URL.Path == "/items/ark:/99999/fk4item":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	item, assets := fixture()
	c := publish.New(server.URL, "token")

	require.NoError(t, c.Publish(context.Background(), item, assets))
	assert.Equal(t, "ark:/99999/fk4item", received.UniqueIdentifier)
	assert.Len(t, received.Assets, 3)

	require.NoError(t, c.Unpublish(context.Background(), item))
}

func TestClient_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	item, assets := fixture()
	c := publish.New(server.URL, "")

	err := c.Publish(context.Background(), item, assets)
	assert.ErrorIs(t, err, preservation.ErrPublish)
	assert.Contains(t, err.Error(), "index unavailable")

	assert.ErrorIs(t, c.Unpublish(context.Background(), item), preservation.ErrPublish)
}
