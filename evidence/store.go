// Package evidence stores uploaded media (shipping proof, dispute proof, KYC
// documents) and hands back opaque references that the rest of the system
// treats as immutable once attached.
package evidence

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store saves an uploaded blob and returns its public URL.
type Store interface {
	Put(ctx context.Context, contentType string, r io.Reader) (string, error)
}

// DiskStore writes uploads under a local directory and serves them from a
// configured base URL. Object names are random, so a reference cannot be
// guessed from order data.
type DiskStore struct {
	dir     string
	baseURL string
	newID   func() string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create dir: %w", err)
	}
	return &DiskStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   uuid.NewString,
	}, nil
}

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
}

// maxObjectSize caps a single upload at 25 MiB.
const maxObjectSize = 25 << 20

func (s *DiskStore) Put(ctx context.Context, contentType string, r io.Reader) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("evidence: parse content type: %w", err)
	}
	ext, ok := allowedTypes[mediaType]
	if !ok {
		return "", fmt.Errorf("evidence: unsupported content type %q", mediaType)
	}

	name := s.newID() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("evidence: create object: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, maxObjectSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxObjectSize {
		err = fmt.Errorf("evidence: object exceeds %d bytes", maxObjectSize)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}

	return s.baseURL + "/" + name, nil
}
