// Package knowledge loads the sales knowledge base fed into the sales prompt.
package knowledge

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Loader reads plain-text knowledge files from a directory and caches the
// concatenated result. Content is bounded at maxChars to protect the prompt
// token budget.
type Loader struct {
	dir      string
	maxChars int

	mu     sync.Mutex
	cached string
	loaded bool
}

// NewLoader creates a loader for dir. An empty dir yields empty knowledge.
func NewLoader(dir string, maxChars int) *Loader {
	if maxChars <= 0 {
		maxChars = 3000
	}
	return &Loader{dir: dir, maxChars: maxChars}
}

// Full returns the concatenated knowledge base, loading it on first use.
func (l *Loader) Full() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return l.cached
	}
	l.cached = l.load()
	l.loaded = true
	return l.cached
}

// Reload drops the cache so the next Full re-reads the directory.
func (l *Loader) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
}

func (l *Loader) load() string {
	if l.dir == "" {
		return ""
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		slog.Warn("knowledge base directory unreadable", "dir", l.dir, "error", err)
		return ""
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt", ".md":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			slog.Warn("knowledge file unreadable", "file", name, "error", err)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(string(data)))
		if sb.Len() >= l.maxChars {
			break
		}
	}

	out := sb.String()
	if len(out) > l.maxChars {
		out = out[:l.maxChars]
	}
	slog.Info("knowledge base loaded", "files", len(names), "chars", len(out))
	return out
}
