package blob

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPrefix is the path under which object URLs are served.
const DefaultPrefix = "/media/"

// Registry maps object URLs to blobs. URLs stay valid until revoked; every
// URL handed out must eventually be passed to Revoke.
type Registry struct {
	mu      sync.RWMutex
	prefix  string
	entries map[string]*Blob
	created time.Time
}

// NewRegistry returns a registry whose URLs start with prefix. An empty prefix
// means DefaultPrefix.
func NewRegistry(prefix string) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Registry{
		prefix:  prefix,
		entries: make(map[string]*Blob),
		created: time.Now(),
	}
}

// Create registers b and returns a fresh URL for it.
func (r *Registry) Create(b *Blob) string {
	u := r.prefix + uuid.NewString()
	r.mu.Lock()
	r.entries[u] = b
	r.mu.Unlock()
	return u
}

// Revoke releases a URL. Unknown URLs are ignored.
func (r *Registry) Revoke(u string) {
	r.mu.Lock()
	delete(r.entries, u)
	r.mu.Unlock()
}

// Resolve returns the blob behind u.
func (r *Registry) Resolve(u string) (*Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.entries[u]
	return b, ok
}

// Len returns the number of live URLs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Prefix returns the URL prefix, ending in "/".
func (r *Registry) Prefix() string { return r.prefix }

// ServeHTTP serves the bytes of the object URL matching the request path.
// Range requests are supported through http.ServeContent.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	b, ok := r.Resolve(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", b.Type())
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	http.ServeContent(w, req, "", r.created, b.Reader())
}
