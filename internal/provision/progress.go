// SPDX-License-Identifier: MPL-2.0

package provision

import "sync"

const (
	StagePreparing   Stage = "preparing"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageInstalling  Stage = "installing"
	StageVerifying   Stage = "verifying"
	StageComplete    Stage = "complete"

	feedBuffer = 64
)

type (
	// Stage is one step of a provisioning run.
	Stage string

	// Progress is an ephemeral status update. Progress runs 0-100 across
	// the whole run, not per stage.
	Progress struct {
		Stage    Stage  `json:"stage"`
		Message  string `json:"message"`
		Progress int    `json:"progress"`
	}

	// Feed fans progress updates out to any number of subscribers. A
	// subscriber that falls behind misses updates; the publisher never
	// blocks.
	Feed struct {
		mu     sync.Mutex
		subs   map[int]chan Progress
		nextID int
		last   *Progress
	}
)

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Progress)}
}

// Publish delivers p to every subscriber.
func (f *Feed) Publish(p Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &p
	for _, ch := range f.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Last returns the most recent update, if any.
func (f *Feed) Last() (Progress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Progress{}, false
	}
	return *f.last, true
}

// Subscribe returns a channel of future updates and its cancel function.
func (f *Feed) Subscribe() (<-chan Progress, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Progress, feedBuffer)
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}
