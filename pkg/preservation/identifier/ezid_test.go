package identifier_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/identifier"
)

func TestClient_Exists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/id/ark:/99999/fk4known":
			fmt.Fprintln(w, "success: ark:/99999/fk4known")
		case "/id/ark:/99999/fk4gone":
			w.WriteHeader(http.StatusNotFound)
		case "/id/ark:/99999/fk4garbled":
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, strings.Repeat("x", bufio.MaxScanTokenSize+1))
		case "/id/ark:/99999/fk4unknown":
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "error: bad request - no such identifier")
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	c := identifier.New(server.URL, "ark:/99999/fk4", "", "")
	ctx := context.Background()

	ok, err := c.Exists(ctx, "ark:/99999/fk4known")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, id := range []string{"ark:/99999/fk4gone", "ark:/99999/fk4unknown"} {
		t.Run(id, func(t *testing.T) {
			ok, err := c.Exists(ctx, id)
			assert.False(t, ok)
			assert.ErrorIs(t, err, preservation.ErrIdentifierNotFound)
		})
	}

	t.Run("server error is not definitive", func(t *testing.T) {
		_, err := c.Exists(ctx, "ark:/99999/fk4down")
		require.Error(t, err)
		assert.NotErrorIs(t, err, preservation.ErrIdentifierNotFound)
		assert.ErrorIs(t, err, identifier.ErrUnexpectedResponse)
	})

	t.Run("unreadable body is reported", func(t *testing.T) {
		_, err := c.Exists(ctx, "ark:/99999/fk4garbled")
		assert.ErrorIs(t, err, identifier.ErrUnexpectedResponse)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
	})
}

func TestClient_Mint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "apitest" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, "error: unauthorized")
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/shoulder/ark:/99999/fk4", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "_status: reserved")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintln(w, "success: ark:/99999/fk4abc123")
	}))
	defer server.Close()

	id, err := identifier.New(server.URL, "ark:/99999/fk4", "apitest", "secret").Mint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ark:/99999/fk4abc123", id)

	_, err = identifier.New(server.URL, "ark:/99999/fk4", "apitest", "wrong").Mint(context.Background())
	assert.ErrorIs(t, err, identifier.ErrUnexpectedResponse)
}

func TestClient_MintDOI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintln(w, "success: doi:10.5072/FK2ABC | ark:/b5072/fk2abc")
	}))
	defer server.Close()

	id, err := identifier.New(server.URL, "doi:10.5072/FK2", "", "").Mint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "doi:10.5072/FK2ABC", id)
}
