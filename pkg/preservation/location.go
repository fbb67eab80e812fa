package preservation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// StorageLocation indexes the files directly under one or more path prefixes
// of a named storage backend by their filename.
type StorageLocation struct {
	Storage string
	Paths   []string

	store  BlobStore
	files  map[string]string // filename -> key
	errors []string
}

// LocateStorage lists every path and builds the filename index. Problems are
// collected rather than returned; check Valid before using the location.
func LocateStorage(ctx context.Context, stores Stores, storage string, paths []string) *StorageLocation {
	l := &StorageLocation{
		Storage: storage,
		Paths:   paths,
		files:   make(map[string]string),
	}

	store, err := stores.Get(storage)
	if err != nil {
		l.errors = append(l.errors, fmt.Sprintf("storage %q is not configured", storage))
	}
	l.store = store

	if len(paths) == 0 {
		l.errors = append(l.errors, "at least one storage path is required")
	}
	if store == nil {
		return l
	}

	duplicates := make(map[string][]string)
	for _, p := range paths {
		prefix := normalizePrefix(p)
		keys, err := store.List(ctx, prefix)
		if err != nil {
			l.errors = append(l.errors, fmt.Sprintf("could not list path %q in storage %q: %v", p, storage, err))
			continue
		}
		if len(keys) == 0 {
			l.errors = append(l.errors, fmt.Sprintf("path %q does not exist in storage %q", p, storage))
			continue
		}
		for _, key := range keys {
			rel := strings.TrimPrefix(key, prefix)
			// only files directly below the prefix
			if rel == "" || strings.Contains(rel, "/") {
				continue
			}
			existing, seen := l.files[rel]
			switch {
			case !seen:
				l.files[rel] = key
			case existing != key:
				if len(duplicates[rel]) == 0 {
					duplicates[rel] = append(duplicates[rel], existing)
				}
				duplicates[rel] = append(duplicates[rel], key)
			}
		}
	}

	names := make([]string, 0, len(duplicates))
	for name := range duplicates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l.errors = append(l.errors, fmt.Sprintf("duplicate filename %s found in storage at %s", name, strings.Join(duplicates[name], ", ")))
	}

	return l
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimLeft(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Valid reports whether the location can be used.
func (l *StorageLocation) Valid() bool {
	return len(l.errors) == 0
}

// Errors returns the problems found while locating the files.
func (l *StorageLocation) Errors() []string {
	return l.errors
}

// Filenames returns the indexed filenames, sorted.
func (l *StorageLocation) Filenames() []string {
	names := make([]string, 0, len(l.files))
	for name := range l.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether filename is in the index.
func (l *StorageLocation) Has(filename string) bool {
	_, ok := l.files[filename]
	return ok
}

// FileLocationFor returns where filename is stored.
func (l *StorageLocation) FileLocationFor(filename string) (*FileRef, bool) {
	key, ok := l.files[filename]
	if !ok {
		return nil, false
	}
	return &FileRef{Storage: l.Storage, Key: key}, true
}

// ChecksumFor returns the SHA-256 hex digest of filename. A checksum stored
// by the backend is preferred; otherwise the file is downloaded and hashed.
func (l *StorageLocation) ChecksumFor(ctx context.Context, filename string) (string, error) {
	key, ok := l.files[filename]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	return checksumOf(ctx, l.store, l.Storage, key)
}

func checksumOf(ctx context.Context, store BlobStore, backend, key string) (string, error) {
	if provider, ok := store.(ChecksumProvider); ok {
		sum, err := provider.Checksum(ctx, key)
		if err == nil && sum != "" {
			return sum, nil
		}
		if err != nil && !errors.Is(err, ErrChecksumUnavailable) {
			return "", &StorageError{Backend: backend, Key: key, Op: "checksum", Err: err}
		}
	}

	reader, err := store.Download(ctx, key)
	if err != nil {
		return "", &StorageError{Backend: backend, Key: key, Op: "download", Err: err}
	}
	defer reader.Close()

	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", &StorageError{Backend: backend, Key: key, Op: "checksum", Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
