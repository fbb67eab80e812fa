package testutil

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/api"
)

// WritePNG writes a width x height gradient to dir/rel and returns its bytes.
func WritePNG(t *testing.T, dir, rel string, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return buf.Bytes()
}

// PostImport sends req to the import endpoint and decodes the outcome.
func PostImport(t *testing.T, serverURL string, req *preservation.ImportRequest) (int, preservation.Outcome) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(serverURL+"/api/v1/imports", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var outcome preservation.Outcome
	decode(t, resp.Body, &outcome)
	return resp.StatusCode, outcome
}

// GetItem fetches an item and its assets.
func GetItem(t *testing.T, serverURL, id string) api.ItemResponse {
	t.Helper()
	resp, err := http.Get(serverURL + "/api/v1/items/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var item api.ItemResponse
	decode(t, resp.Body, &item)
	return item
}

// PostItemAction calls one of the item action endpoints, such as publish,
// on behalf of actor and returns the status code.
func PostItemAction(t *testing.T, serverURL, id, action, actor string) int {
	t.Helper()
	body, err := json.Marshal(api.ActorRequest{Actor: actor})
	require.NoError(t, err)

	resp, err := http.Post(serverURL+"/api/v1/items/"+id+"/"+action, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func decode(t *testing.T, r io.Reader, v interface{}) {
	t.Helper()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, v), string(body))
}
