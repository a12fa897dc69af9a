// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultInactivityTimeout aborts a download that receives no bytes for
	// this long. There is no overall deadline.
	DefaultInactivityTimeout = 120 * time.Second

	maxRedirects      = 1
	maxChecksumsBytes = 1 << 20
)

// downloader fetches release files.
type downloader struct {
	client     *http.Client
	inactivity time.Duration
	userAgent  string
}

func newDownloader(base *http.Client, inactivity time.Duration, userAgent string) *downloader {
	if base == nil {
		base = http.DefaultClient
	}
	c := *base
	c.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return ErrTooManyRedirects
		}
		return nil
	}
	if inactivity <= 0 {
		inactivity = DefaultInactivityTimeout
	}
	return &downloader{client: &c, inactivity: inactivity, userAgent: userAgent}
}

// toFile streams url into dst, calling onProgress with the bytes written so
// far and the announced total (-1 when unknown).
func (d *downloader) toFile(ctx context.Context, url, dst string, onProgress func(written, total int64)) (err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watchdog := time.AfterFunc(d.inactivity, func() { cancel(ErrDownloadStalled) })
	defer watchdog.Stop()

	defer func() {
		if err != nil && errors.Is(context.Cause(ctx), ErrDownloadStalled) {
			err = fmt.Errorf("%w: no data received for %s from %s", ErrDownloadStalled, d.inactivity, redactURL(url))
		}
	}()

	resp, err := d.get(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dst, cerr)
		}
	}()

	body := &progressReader{
		r:     resp.Body,
		total: resp.ContentLength,
		onRead: func(written, total int64) {
			watchdog.Reset(d.inactivity)
			if onProgress != nil {
				onProgress(written, total)
			}
		},
	}
	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("download %s: %w", redactURL(url), err)
	}
	return nil
}

// toMemory fetches a small file such as the checksum list.
func (d *downloader) toMemory(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.inactivity)
	defer cancel()

	resp, err := d.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChecksumsBytes))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", redactURL(url), err)
	}
	return data, nil
}

func (d *downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", redactURL(url), err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download %s: unexpected status %d", redactURL(url), resp.StatusCode)
	}
	return resp, nil
}

type progressReader struct {
	r       io.Reader
	written int64
	total   int64
	onRead  func(written, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		p.onRead(p.written, p.total)
	}
	return n, err
}
