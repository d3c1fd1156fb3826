// Package breach answers whether a password is on a known-breached list.
package breach

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// List is an in-memory, case-insensitive set of breached passwords.  The
// zero value and a nil *List are empty, so lookups fail open.
type List struct {
	mu     sync.RWMutex
	data   map[string]struct{}
	loaded bool
}

func New() *List { return &List{data: map[string]struct{}{}} }

// LoadFile reads one password per line from path.  Blank lines and lines
// starting with # are skipped.  Only the first successful load has an
// effect.  A missing file is logged and leaves the list empty.
func (l *List) LoadFile(path string, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(path) == "" {
		return 0, nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("breached password file not found, check disabled", zap.String("path", path))
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	return l.Load(f)
}

// Load reads entries from r.  Subsequent calls after a successful load
// are no-ops.
func (l *List) Load(r io.Reader) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return 0, nil
	}
	if l.data == nil {
		l.data = map[string]struct{}{}
	}
	n := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s := strings.ToLower(strings.TrimSpace(sc.Text()))
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if _, dup := l.data[s]; !dup {
			l.data[s] = struct{}{}
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, err
	}
	l.loaded = true
	return n, nil
}

// IsKnownBreached reports membership, ignoring case.
func (l *List) IsKnownBreached(password string) bool {
	if l == nil {
		return false
	}
	p := strings.ToLower(strings.TrimSpace(password))
	l.mu.RLock()
	_, ok := l.data[p]
	l.mu.RUnlock()
	return ok
}

// Len is the number of distinct entries.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}
