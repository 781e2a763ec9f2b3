package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pageforge/internal/domain"
)

const metaSuffix = ".meta.json"

// FileStore persists rehosted assets onto the local filesystem. Each object
// has a sidecar metadata file carrying its MIME type and expiry.
type FileStore struct {
	basePath string
	now      func() time.Time
}

type objectMeta struct {
	MIME      string    `json:"mime"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, now: time.Now}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data under key with an expiry ttl from now. A non-positive ttl
// means the object never expires.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, mime string, ttl time.Duration) (domain.StoredObject, error) {
	if s == nil {
		return domain.StoredObject{}, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return domain.StoredObject{}, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return domain.StoredObject{}, err
	}
	meta := objectMeta{MIME: mime, Size: int64(len(data))}
	if ttl > 0 {
		meta.ExpiresAt = s.now().Add(ttl).UTC()
	}
	fullPath := s.path(cleanKey)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return domain.StoredObject{}, fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := writeAtomic(fullPath, data); err != nil {
		return domain.StoredObject{}, fmt.Errorf("storage: write file: %w", err)
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return domain.StoredObject{}, err
	}
	if err := writeAtomic(fullPath+metaSuffix, rawMeta); err != nil {
		return domain.StoredObject{}, fmt.Errorf("storage: write metadata: %w", err)
	}
	return domain.StoredObject{Key: cleanKey, MIME: mime, Size: meta.Size, ExpiresAt: meta.ExpiresAt}, nil
}

// Open returns an unexpired object. Missing objects yield domain.ErrNotFound,
// expired ones domain.ErrObjectExpired.
func (s *FileStore) Open(ctx context.Context, key string) (domain.StoredObject, []byte, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredObject{}, nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return domain.StoredObject{}, nil, err
	}
	if strings.HasSuffix(cleanKey, metaSuffix) {
		return domain.StoredObject{}, nil, domain.ErrNotFound
	}
	fullPath := s.path(cleanKey)
	meta, err := readMeta(fullPath + metaSuffix)
	if err != nil {
		return domain.StoredObject{}, nil, err
	}
	obj := domain.StoredObject{Key: cleanKey, MIME: meta.MIME, Size: meta.Size, ExpiresAt: meta.ExpiresAt}
	if meta.expired(s.now()) {
		return obj, nil, domain.ErrObjectExpired
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return obj, nil, domain.ErrNotFound
		}
		return obj, nil, fmt.Errorf("storage: read file: %w", err)
	}
	return obj, data, nil
}

// Sweep deletes every object expired at now and returns how many were removed.
func (s *FileStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		meta, err := readMeta(path)
		if err != nil || !meta.expired(now) {
			return nil
		}
		_ = os.Remove(strings.TrimSuffix(path, metaSuffix))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

func (s *FileStore) path(cleanKey string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
}

func (m objectMeta) expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

func readMeta(path string) (objectMeta, error) {
	var meta objectMeta
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, domain.ErrNotFound
		}
		return meta, fmt.Errorf("storage: read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("storage: decode metadata: %w", err)
	}
	return meta, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is required", domain.ErrInvalidObjectKey)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", domain.ErrInvalidObjectKey
	}
	return cleaned, nil
}

var _ domain.ObjectStore = (*FileStore)(nil)
