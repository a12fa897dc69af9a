// SPDX-License-Identifier: MPL-2.0

package lifecyclelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/newrev/newrev/internal/testutil"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultRetain is how many events the in-memory feed keeps.
	DefaultRetain = 1000
	// DefaultMaxSizeMB is the size at which the durable file is rotated.
	DefaultMaxSizeMB = 10
	// DefaultMaxBackups is how many rotated files are kept.
	DefaultMaxBackups = 3
	// DefaultMaxAgeDays is how long rotated files are kept.
	DefaultMaxAgeDays = 28

	subscriberBuffer = 256
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("lifecycle log closed")

type (
	// Options configures a Log.
	Options struct {
		// Path is the durable log file. Empty disables the file sink, which
		// is only useful in tests.
		Path string
		// Rotation limits; zero selects the package default.
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
		// Retain bounds the in-memory feed (default DefaultRetain).
		Retain int
		// Clock stamps events written without a timestamp.
		Clock testutil.Clock
	}

	// Log is the append-only event sink. It is safe for concurrent use;
	// writes are serialized so the file sees whole lines in write order.
	Log struct {
		mu     sync.Mutex
		file   io.WriteCloser
		clock  testutil.Clock
		ring   []Event
		start  int // index of the oldest event in ring
		count  int
		subs   map[int]chan Event
		nextID int
		closed bool
	}
)

// New opens (creating if needed) the durable file and returns a Log.
func New(opts Options) (*Log, error) {
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	if opts.Clock == nil {
		opts.Clock = testutil.RealClock{}
	}

	l := &Log{
		clock: opts.Clock,
		ring:  make([]Event, opts.Retain),
		subs:  make(map[int]chan Event),
	}

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   opts.Compress,
			LocalTime:  false,
		}
	}
	return l, nil
}

// Write appends e to the durable file and the live feed, then fans it out
// to subscribers. A zero timestamp is filled from the clock. Subscribers
// that are not keeping up miss events rather than block the writer.
func (l *Log) Write(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}

	var fileErr error
	if l.file != nil {
		if _, err := io.WriteString(l.file, e.Line()+"\n"); err != nil {
			fileErr = fmt.Errorf("append to log file: %w", err)
		}
	}

	l.push(e)
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return fileErr
}

// Info writes an INFO event.
func (l *Log) Info(format string, args ...any) error {
	return l.Write(Event{Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

// Error writes an ERROR event.
func (l *Log) Error(format string, args ...any) error {
	return l.Write(Event{Level: LevelError, Message: fmt.Sprintf(format, args...)})
}

// ReadAll returns the retained events, oldest first.
func (l *Log) ReadAll() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, l.count)
	for i := range l.count {
		out[i] = l.ring[(l.start+i)%len(l.ring)]
	}
	return out
}

// Clear empties the in-memory feed. The durable file is left untouched.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.ring)
	l.start, l.count = 0, 0
}

// Subscribe returns a channel receiving every event written after the call
// and a function that ends the subscription and closes the channel.
func (l *Log) Subscribe() (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if sub, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(sub)
			}
		})
	}
}

// Close ends all subscriptions and closes the durable file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// push must be called with mu held.
func (l *Log) push(e Event) {
	size := len(l.ring)
	if l.count < size {
		l.ring[(l.start+l.count)%size] = e
		l.count++
		return
	}
	l.ring[l.start] = e
	l.start = (l.start + 1) % size
}

// ReadFile parses a durable log file. Lines that do not parse are skipped,
// so a file truncated mid-line still yields every complete event.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		e, err := ParseLine(scanner.Text())
		if err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan log file: %w", err)
	}
	return events, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
