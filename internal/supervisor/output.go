// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"strings"
	"sync"
)

// DefaultTailLines is how many output lines error diagnostics carry.
const DefaultTailLines = 50

//nolint:gochecknoglobals // read-only defaults
var (
	// DefaultReadyPatterns match the web server's startup banner.
	DefaultReadyPatterns = []string{"Running on http", "Running on all addresses"}
	// DefaultDependencyPatterns match Python import failures.
	DefaultDependencyPatterns = []string{"ModuleNotFoundError", "ImportError", "No module named"}
)

// matcher reports whether a line contains any of its substrings.
type matcher []string

func (m matcher) match(line string) bool {
	for _, p := range m {
		if p != "" && strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// tail keeps the most recent lines of both output streams.
type tail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newTail(n int) *tail {
	if n <= 0 {
		n = DefaultTailLines
	}
	return &tail{lines: make([]string, n)}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// snapshot returns the retained lines, oldest first.
func (t *tail) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}
