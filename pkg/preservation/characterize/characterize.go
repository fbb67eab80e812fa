// Package characterize extracts technical metadata from preservation files.
package characterize

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

// sniffLen is how much of the head of a file is kept for type detection.
const sniffLen = 512

var (
	tiffLittleEndian = []byte("II*\x00")
	tiffBigEndian    = []byte("MM\x00*")
)

// Characterizer reads a file once, hashing it and identifying its type.
// Images are decoded far enough to read their dimensions.
type Characterizer struct {
	// MaxImageBytes caps how much of an image is buffered for decoding.
	// Zero means no limit.
	MaxImageBytes int64
}

var _ preservation.Characterizer = (*Characterizer)(nil)

// New returns a Characterizer with no image size limit.
func New() *Characterizer {
	return &Characterizer{}
}

// hashWriter computes MD5 and SHA-256 of everything written to it.
type hashWriter struct {
	io.Writer
	md5    hash.Hash
	sha256 hash.Hash
	size   int64
}

func newHashWriter() *hashWriter {
	hw := &hashWriter{md5: md5.New(), sha256: sha256.New()}
	hw.Writer = io.MultiWriter(hw.md5, hw.sha256)
	return hw
}

func (hw *hashWriter) Write(p []byte) (int, error) {
	n, err := hw.Writer.Write(p)
	hw.size += int64(n)
	return n, err
}

// Examine implements preservation.Characterizer.
func (c *Characterizer) Examine(ctx context.Context, r io.Reader, filename string) (*preservation.TechnicalMetadata, error) {
	hw := newHashWriter()
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(io.TeeReader(r, hw), head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("%w: reading %s: %v", preservation.ErrCharacterization, filename, err)
	}
	head = head[:n]
	if n == 0 {
		return nil, fmt.Errorf("%w: %s is empty", preservation.ErrCharacterization, filename)
	}

	mimeType := DetectMimeType(head, filename)

	tm := &preservation.TechnicalMetadata{MimeType: mimeType}
	if strings.HasPrefix(mimeType, "image/") {
		var buf bytes.Buffer
		buf.Write(head)
		rest := io.Reader(r)
		if c.MaxImageBytes > 0 {
			rest = io.LimitReader(r, c.MaxImageBytes-int64(n))
		}
		if _, err := io.Copy(io.MultiWriter(&buf, hw), rest); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", preservation.ErrCharacterization, filename, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", preservation.ErrCharacterization, filename, err)
		}
		tm.Width = cfg.Width
		tm.Height = cfg.Height
		// drain anything past the image limit so the digests cover the file
		if _, err := io.Copy(hw, r); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", preservation.ErrCharacterization, filename, err)
		}
	} else if _, err := io.Copy(hw, r); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", preservation.ErrCharacterization, filename, err)
	}

	tm.Size = hw.size
	tm.SHA256 = hex.EncodeToString(hw.sha256.Sum(nil))
	tm.MD5 = hex.EncodeToString(hw.md5.Sum(nil))
	return tm, nil
}

// DetectMimeType identifies content from its first bytes, falling back to
// the filename extension when the content is not recognized.
func DetectMimeType(head []byte, filename string) string {
	if bytes.HasPrefix(head, tiffLittleEndian) || bytes.HasPrefix(head, tiffBigEndian) {
		return "image/tiff"
	}
	detected := http.DetectContentType(head)
	if i := strings.Index(detected, ";"); i >= 0 {
		detected = detected[:i]
	}
	if detected != "application/octet-stream" && detected != "text/plain" {
		return detected
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if i := strings.Index(byExt, ";"); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	return detected
}
