// SPDX-License-Identifier: MPL-2.0

package lifecyclelog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is used when fsnotify is unavailable.
const pollInterval = 250 * time.Millisecond

// follower tails one durable log file across rotations.
type follower struct {
	path    string
	fn      func(Event)
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial []byte
}

// Follow calls fn for every event appended to the log file at path until
// ctx is cancelled. It starts at the current end of the file. When the file
// is rotated (renamed away and recreated) following resumes at the start of
// the new file. Follow falls back to polling when fsnotify cannot watch the
// directory.
func Follow(ctx context.Context, path string, fn func(Event)) error {
	fl := &follower{path: path, fn: fn}
	if err := fl.open(true); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	defer fl.close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fl.poll(ctx)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fl.poll(ctx)
	}

	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("follow %s: event channel closed", path)
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				fl.close()
				if err := fl.open(false); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				fl.drain()
			case ev.Has(fsnotify.Write):
				if fl.file == nil {
					if err := fl.open(false); err != nil {
						continue
					}
				}
				fl.drain()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("follow %s: error channel closed", path)
			}
			// Overflow and similar errors are recoverable; the next write
			// event reads everything appended in the meantime.
			_ = err
		}
	}
}

func (fl *follower) poll(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(fl.path)
			if err != nil {
				continue
			}
			if fl.file == nil || info.Size() < fl.offset {
				fl.close()
				if err := fl.open(false); err != nil {
					continue
				}
			}
			fl.drain()
		}
	}
}

// open opens the file, seeking to its end when atEnd is set.
func (fl *follower) open(atEnd bool) error {
	f, err := os.Open(fl.path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var offset int64
	if atEnd {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("seek log file: %w", err)
		}
	}
	fl.file, fl.offset, fl.partial = f, offset, nil
	fl.reader = bufio.NewReader(f)
	return nil
}

func (fl *follower) close() {
	if fl.file != nil {
		fl.file.Close()
		fl.file, fl.reader = nil, nil
	}
}

// drain delivers every complete line available. A trailing line without a
// newline is held until the rest of it arrives.
func (fl *follower) drain() {
	if fl.reader == nil {
		return
	}
	for {
		chunk, err := fl.reader.ReadBytes('\n')
		fl.offset += int64(len(chunk))
		if len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
			line := append(fl.partial, chunk[:len(chunk)-1]...)
			fl.partial = nil
			if e, perr := ParseLine(string(line)); perr == nil {
				fl.fn(e)
			}
		} else if len(chunk) > 0 {
			fl.partial = append(fl.partial, chunk...)
		}
		if err != nil {
			return
		}
	}
}
