package api

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"qrbatch/internal/fsutil"
	"qrbatch/internal/packager"
)

const outputRoute = "/output/"

// maxCachedDigests bounds the digest cache; it is cleared when full.
const maxCachedDigests = 4096

type cachedDigest struct {
	size    int64
	modTime time.Time
	digest  string
}

// digestCache keeps artifact digests keyed by path. An entry is reused
// only while the file's size and modification time are unchanged.
type digestCache struct {
	mu      sync.Mutex
	entries map[string]cachedDigest
	compute func(path string) (string, error)
}

func newDigestCache() *digestCache {
	return &digestCache{entries: make(map[string]cachedDigest), compute: packager.Digest}
}

func (c *digestCache) lookup(path string, info fs.FileInfo) (string, error) {
	c.mu.Lock()
	entry, ok := c.entries[path]
	c.mu.Unlock()
	if ok && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
		return entry.digest, nil
	}

	digest, err := c.compute(path)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	if len(c.entries) >= maxCachedDigests {
		clear(c.entries)
	}
	c.entries[path] = cachedDigest{size: info.Size(), modTime: info.ModTime(), digest: digest}
	c.mu.Unlock()
	return digest, nil
}

func (c *digestCache) forget(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// outputHandler serves finished artifacts from dir with their blake3
// digest as ETag. Directory listings are never served.
func outputHandler(dir string) http.Handler {
	return serveOutput(dir, newDigestCache())
}

func serveOutput(dir string, digests *digestCache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rel := strings.TrimPrefix(r.URL.Path, outputRoute)
		target, err := fsutil.JoinWithin(dir, rel)
		if err != nil || rel == "" || strings.HasSuffix(rel, "/") {
			http.NotFound(w, r)
			return
		}
		file, err := os.Open(target)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				digests.forget(target)
				http.NotFound(w, r)
				return
			}
			http.Error(w, "cannot open file", http.StatusInternalServerError)
			return
		}
		defer file.Close()
		info, err := file.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		name := filepath.Base(target)
		if digest, err := digests.lookup(target, info); err == nil {
			w.Header().Set("ETag", `"`+digest+`"`)
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		setSecurityHeaders(w, cacheControlImmutable)
		http.ServeContent(w, r, name, info.ModTime(), file)
	})
}
