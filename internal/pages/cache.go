// Package pages keeps rendered page images on disk so the viewer can flip
// between pages without refetching them.
package pages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/csheth/formscout/internal/api"
)

const (
	cacheEnvVar     = "FORMSCOUT_CACHE_DIR"
	cacheSubdir     = "formscout/pages"
	defaultTTL      = 24 * time.Hour
	partialSuffix   = ".part"
	metaSuffix      = ".meta"
	defaultParallel = 3
)

// Fetcher renders pages on the server.
type Fetcher interface {
	PageImage(ctx context.Context, id string, page int, etag string) (*api.PageImage, error)
}

// Cache stores page images under dir/<form id>/<page>.img.
type Cache struct {
	dir     string
	fetcher Fetcher
	ttl     time.Duration
}

type pageMeta struct {
	FormID      string    `json:"formId"`
	Page        int       `json:"page"`
	ETag        string    `json:"etag"`
	ContentType string    `json:"contentType"`
	CachedAt    time.Time `json:"cachedAt"`
	Size        int64     `json:"size"`
}

// NewCache creates the cache directory. An empty dir falls back to
// $FORMSCOUT_CACHE_DIR and then the user cache directory.
func NewCache(dir string, fetcher Fetcher) (*Cache, error) {
	if dir == "" {
		dir = os.Getenv(cacheEnvVar)
	}
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = filepath.Join(os.TempDir(), "formscout-cache")
		}
		dir = filepath.Join(base, cacheSubdir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, fetcher: fetcher, ttl: defaultTTL}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Page returns the path of the cached image for a 1-based page, fetching or
// revalidating it when needed. A stale copy is served if the server cannot be
// reached.
func (c *Cache) Page(ctx context.Context, formID string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("invalid page %d", page)
	}
	imgPath, metaPath := c.pathsFor(formID, page)

	info, statErr := os.Stat(imgPath)
	if statErr == nil && info.Size() > 0 && time.Since(info.ModTime()) < c.ttl {
		return imgPath, nil
	}

	meta, _ := readMeta(metaPath)
	path, err := c.refresh(ctx, formID, page, imgPath, metaPath, meta, info)
	if err == nil {
		return path, nil
	}
	if statErr == nil && info.Size() > 0 {
		log.Warn().Err(err).Str("form", formID).Int("page", page).Msg("serving stale page image")
		return imgPath, nil
	}
	return "", err
}

// Prefetch warms pages 1..count with bounded concurrency.
func (c *Cache) Prefetch(ctx context.Context, formID string, count int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultParallel)
	for page := 1; page <= count; page++ {
		page := page
		g.Go(func() error {
			if _, err := c.Page(gctx, formID, page); err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Purge removes every cached page of a form.
func (c *Cache) Purge(formID string) error {
	return os.RemoveAll(filepath.Join(c.dir, sanitizeKey(formID)))
}

func (c *Cache) refresh(ctx context.Context, formID string, page int, imgPath, metaPath string, meta pageMeta, current os.FileInfo) (string, error) {
	etag := ""
	if current != nil && current.Size() > 0 {
		etag = meta.ETag
	}
	img, err := c.fetcher.PageImage(ctx, formID, page, etag)
	if err != nil {
		return "", err
	}
	if img.NotModified {
		if current == nil || current.Size() == 0 {
			return c.refresh(ctx, formID, page, imgPath, metaPath, pageMeta{}, nil)
		}
		now := time.Now()
		_ = os.Chtimes(imgPath, now, now)
		meta.CachedAt = now.UTC()
		_ = writeMeta(metaPath, meta)
		return imgPath, nil
	}
	if len(img.Data) == 0 {
		return "", fmt.Errorf("empty page image for %s page %d", formID, page)
	}

	if err := os.MkdirAll(filepath.Dir(imgPath), 0o755); err != nil {
		return "", err
	}
	if err := writeFileAtomic(imgPath, img.Data); err != nil {
		return "", err
	}
	next := pageMeta{
		FormID:      formID,
		Page:        page,
		ETag:        img.ETag,
		ContentType: img.ContentType,
		CachedAt:    time.Now().UTC(),
		Size:        int64(len(img.Data)),
	}
	if err := writeMeta(metaPath, next); err != nil {
		return "", err
	}
	return imgPath, nil
}

func (c *Cache) pathsFor(formID string, page int) (string, string) {
	base := filepath.Join(c.dir, sanitizeKey(formID), fmt.Sprintf("%d", page))
	return base + ".img", base + metaSuffix
}

// writeFileAtomic writes through a uniquely named temp file in the target
// directory, so concurrent fetches of one page never share a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*"+partialSuffix)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func sanitizeKey(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "/", "-")
	value = strings.ReplaceAll(value, "\\", "-")
	value = strings.ReplaceAll(value, ":", "-")
	value = strings.ReplaceAll(value, "..", "-")
	if value == "" {
		value = "_"
	}
	return value
}

func readMeta(path string) (pageMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pageMeta{}, err
	}
	var meta pageMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return pageMeta{}, err
	}
	return meta, nil
}

func writeMeta(path string, meta pageMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
