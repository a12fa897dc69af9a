// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/provision"
)

// printer serializes writes from the event and progress goroutines.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) event(e lifecyclelog.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatEvent(e))
}

func (p *printer) progress(pr provision.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatProgress(pr))
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

func formatEvent(e lifecyclelog.Event) string {
	style, ok := levelStyles[string(e.Level)]
	level := fmt.Sprintf("%-6s", e.Level)
	if ok {
		level = style.Render(level)
	}
	return VerboseStyle.Render(e.Timestamp.Local().Format("15:04:05")) + " " + level + " " + e.Message
}

func formatProgress(p provision.Progress) string {
	return CmdStyle.Render(fmt.Sprintf("[%3d%%]", p.Progress)) + " " +
		SubtitleStyle.Render(string(p.Stage)) + " " + p.Message
}
