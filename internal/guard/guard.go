// Package guard provides non-blocking mutual exclusion per (issue, gate)
// pair, across goroutines and across processes sharing a data directory.
package guard

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when the pair is already held.
var ErrBusy = errors.New("checker already running for this issue and gate")

type pair struct {
	issue string
	gate  string
}

// Guard hands out leases. The in-process set catches contention between
// goroutines; the file lock catches contention between processes and is
// dropped by the kernel if the holder dies.
type Guard struct {
	dir string

	mu   sync.Mutex
	held map[pair]struct{}
}

// New returns a Guard whose lock files live in dir.
func New(dir string) (*Guard, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	return &Guard{dir: dir, held: map[pair]struct{}{}}, nil
}

// Lease is a held (issue, gate) lock. Release is safe to call more than once.
type Lease struct {
	g    *Guard
	p    pair
	fl   *flock.Flock
	once sync.Once
	err  error
}

// TryAcquire takes the lock for (issueID, gateKey) or fails at once with
// ErrBusy. Callers must defer Release.
func (g *Guard) TryAcquire(issueID, gateKey string) (*Lease, error) {
	p := pair{issue: issueID, gate: gateKey}

	g.mu.Lock()
	if _, ok := g.held[p]; ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w", issueID, gateKey, ErrBusy)
	}
	g.held[p] = struct{}{}
	g.mu.Unlock()

	path := g.lockPath(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		g.drop(p)
		return nil, fmt.Errorf("locking %s/%s: %w", issueID, gateKey, err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		g.drop(p)
		if err != nil {
			return nil, fmt.Errorf("locking %s/%s: %w", issueID, gateKey, err)
		}
		return nil, fmt.Errorf("%s/%s: %w", issueID, gateKey, ErrBusy)
	}
	return &Lease{g: g, p: p, fl: fl}, nil
}

// Held reports whether this process currently holds the pair.
func (g *Guard) Held(issueID, gateKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[pair{issue: issueID, gate: gateKey}]
	return ok
}

// Release unlocks the pair. The lock file is left in place; removing it
// would race with a concurrent TryAcquire that already opened it.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.fl.Unlock()
		l.g.drop(l.p)
	})
	return l.err
}

func (g *Guard) drop(p pair) {
	g.mu.Lock()
	delete(g.held, p)
	g.mu.Unlock()
}

// lockPath is <dir>/<issue>/<gate>.lock. Each part is escaped on its own,
// so distinct pairs never share a file.
func (g *Guard) lockPath(p pair) string {
	return filepath.Join(g.dir, pathToken(p.issue), pathToken(p.gate)+".lock")
}

// pathToken escapes s into a single path element. PathEscape escapes '%'
// and '/', and a leading dot is escaped as well, so the result is never
// "." or ".." and stays distinct for distinct inputs.
func pathToken(s string) string {
	if s == "" {
		return "%"
	}
	e := url.PathEscape(s)
	if strings.HasPrefix(e, ".") {
		e = "%2E" + e[1:]
	}
	return e
}
