package testutil

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/api"
	"github.com/tendant/simple-preservation/pkg/preservation/config"
)

// SourceStorage is the name of the filesystem backend imports read from.
const SourceStorage = "sceti"

// Server is the import API mounted at /api/v1, reading source files from a
// temporary directory.
type Server struct {
	*httptest.Server
	SourceDir string
	Importer  *preservation.Importer
}

// SetupTestServer builds an importer from configuration and serves it.
// Extra options are applied after the source storage is registered.
func SetupTestServer(t *testing.T, opts ...config.Option) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load(append([]config.Option{config.WithFilesystemStorage(SourceStorage, dir)}, opts...)...)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	importer, err := cfg.BuildImporter(context.Background(), logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/api/v1", api.NewHandler(importer, logger).Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &Server{Server: srv, SourceDir: dir, Importer: importer}
}
