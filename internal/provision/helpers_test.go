// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/newrev/newrev/internal/runtimeenv"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
	mode     int64
}

func createTestArchive(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
			Mode:     e.mode,
			Size:     int64(len(e.body)),
		}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		if hdr.Typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", e.name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Write(%s): %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// interpreterArchive mimics an install-only build.
func interpreterArchive(t *testing.T) []byte {
	t.Helper()
	return createTestArchive(t, []tarEntry{
		{name: "python/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "python/bin/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "python/bin/python3.12", body: "#!fake", mode: 0o755},
		{name: "python/bin/python3", typeflag: tar.TypeSymlink, linkname: "python3.12"},
		{name: "python/lib/python3.12/os.py", body: "# os"},
	})
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fakeRunner records commands and fails those whose joined arguments
// contain failOn.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []runtimeenv.Command
	failOn string
}

func (f *fakeRunner) Run(_ context.Context, c runtimeenv.Command) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	joined := strings.Join(c.Args, " ")
	if f.failOn != "" && strings.Contains(joined, f.failOn) {
		return []byte("ERROR: boom"), &runtimeenv.CommandError{Command: joined, Output: "ERROR: boom", Err: context.DeadlineExceeded}
	}
	return nil, nil
}

func (f *fakeRunner) argLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c.Args, " ")
	}
	return out
}

type fakeVerifier struct {
	err error
}

func (v fakeVerifier) Verify(_ context.Context, path string, source runtimeenv.Source) (runtimeenv.Descriptor, error) {
	if v.err != nil {
		return runtimeenv.Descriptor{}, v.err
	}
	return runtimeenv.Descriptor{Path: path, Version: "3.12.11", Verified: true, Source: source}, nil
}
