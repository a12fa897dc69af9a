// SPDX-License-Identifier: MPL-2.0

package lifecyclelog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	LevelInfo   Level = "INFO"
	LevelStdout Level = "STDOUT"
	LevelStderr Level = "STDERR"
	LevelError  Level = "ERROR"

	// timeLayout is RFC 3339 with fixed millisecond precision so lines sort
	// lexically.
	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrMalformedLine is returned by ParseLine for lines not written by Event.Line.
var ErrMalformedLine = errors.New("malformed log line")

type (
	// Level classifies an Event.
	Level string

	// Event is one supervision record. Events are values and are never
	// modified after they are written.
	Event struct {
		Timestamp time.Time `json:"timestamp"`
		Level     Level     `json:"level"`
		Message   string    `json:"message"`
	}
)

//nolint:gochecknoglobals // stateless replacers
var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelStdout, LevelStderr, LevelError:
		return true
	default:
		return false
	}
}

// Line renders the event as a single durable log line:
//
//	2024-05-01T10:00:00.000Z [STDERR] Running on http://127.0.0.1:5000
//
// Newlines inside the message are escaped so one event is always one line.
func (e Event) Line() string {
	return fmt.Sprintf("%s [%s] %s", e.Timestamp.Format(timeLayout), e.Level, escaper.Replace(e.Message))
}

// ParseLine is the inverse of Event.Line.
func ParseLine(line string) (Event, error) {
	ts, rest, ok := strings.Cut(line, " [")
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	level, msg, ok := strings.Cut(rest, "] ")
	if !ok {
		// An empty message leaves the trailing space trimmed by editors.
		level, ok = strings.CutSuffix(rest, "]")
		if !ok {
			return Event{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad timestamp: %w", ErrMalformedLine, err)
	}
	if !Level(level).Valid() {
		return Event{}, fmt.Errorf("%w: unknown level %q", ErrMalformedLine, level)
	}
	return Event{Timestamp: t, Level: Level(level), Message: unescaper.Replace(msg)}, nil
}
