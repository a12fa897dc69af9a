// SPDX-License-Identifier: MPL-2.0

package runtimeenv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/newrev/newrev/pkg/platform"
)

type (
	// fakeInterpreter scripts the probe results for one path.
	fakeInterpreter struct {
		version    string // output of --version; "" makes the probe fail
		missing    string // module name reported missing by the import probe
		venvBroken bool
	}

	fakeRunner struct {
		mu     sync.Mutex
		interp map[string]fakeInterpreter
		calls  []Command
	}
)

func (r *fakeRunner) Run(_ context.Context, c Command) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()

	fi, ok := r.interp[c.Path]
	if !ok {
		return nil, errors.New("exec: no such file")
	}
	switch c.Args[0] {
	case "--version":
		if fi.version == "" {
			return []byte("segfault"), errors.New("exit status 139")
		}
		return []byte("Python " + fi.version + "\n"), nil
	case "-c":
		if fi.missing != "" {
			out := "Traceback (most recent call last):\n  File \"<string>\", line 1\nModuleNotFoundError: No module named '" + fi.missing + "'\n"
			return []byte(out), errors.New("exit status 1")
		}
		return nil, nil
	case "-m":
		if fi.venvBroken {
			return []byte("Error: ensurepip is not available"), errors.New("exit status 1")
		}
		return nil, nil
	}
	return nil, errors.New("unexpected args")
}

func (r *fakeRunner) callsFor(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

func newTestLocator(opts Options, system []string, onPath map[string]string, files ...string) *Locator {
	l := New(opts)
	present := make(map[string]bool)
	for _, f := range files {
		present[f] = true
	}
	l.isFile = func(p string) bool { return present[p] }
	l.systemDirs = func() []string { return system }
	l.sandboxed = func() bool { return false }
	l.lookPath = func(name string) (string, error) {
		if p, ok := onPath[name]; ok {
			return p, nil
		}
		return "", errors.New("not found")
	}
	return l
}

func TestLocate_PriorityOrder(t *testing.T) {
	t.Parallel()

	venv := "/cache/runtime/venv"
	venvPython := platform.VenvPython(venv)
	runner := &fakeRunner{interp: map[string]fakeInterpreter{
		venvPython:        {version: "3.12.4"},
		"/usr/bin/python3": {version: "3.11.2"},
	}}
	l := newTestLocator(Options{ProvisionedVenv: venv, Runner: runner},
		[]string{"/usr/bin/python3"}, nil, venvPython, "/usr/bin/python3")

	desc, err := l.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if desc.Path != venvPython || desc.Source != SourceProvisioned || !desc.Verified || desc.Version != "3.12.4" {
		t.Errorf("Locate() = %+v, want the provisioned venv", desc)
	}
	if runner.callsFor("/usr/bin/python3") != 0 {
		t.Error("system interpreter probed after an earlier candidate passed")
	}
}

func TestLocate_MissingLibraryIsNotFound(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{interp: map[string]fakeInterpreter{
		"/usr/bin/python3": {version: "3.12.1", missing: "flask_cors"},
	}}
	l := newTestLocator(Options{Runner: runner}, []string{"/usr/bin/python3"}, nil, "/usr/bin/python3")

	_, err := l.Locate(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Locate() = %v, want ErrNotFound", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || len(nf.Rejections) != 1 {
		t.Fatalf("expected one rejection, got %v", err)
	}
	if !strings.Contains(nf.Rejections[0].Reason, "No module named 'flask_cors'") {
		t.Errorf("rejection reason = %q", nf.Rejections[0].Reason)
	}
}

func TestLocate_SkipsFailingCandidates(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{interp: map[string]fakeInterpreter{
		"/opt/old/python3":       {version: "3.8.10"},
		"/usr/local/bin/python3": {version: ""},
		"/usr/bin/python3":       {version: "3.10.12"},
	}}
	l := newTestLocator(Options{ConfiguredPath: "/opt/old/python3", Runner: runner},
		[]string{"/usr/local/bin/python3", "/usr/bin/python3"}, nil,
		"/usr/local/bin/python3", "/usr/bin/python3")

	desc, err := l.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if desc.Path != "/usr/bin/python3" || desc.Source != SourceSystem {
		t.Errorf("Locate() = %+v", desc)
	}
}

func TestLocate_FallsBackToPath(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{interp: map[string]fakeInterpreter{
		"/home/me/.pyenv/shims/python3": {version: "3.13.0rc1"},
	}}
	l := newTestLocator(Options{Runner: runner}, nil,
		map[string]string{"python3": "/home/me/.pyenv/shims/python3", "python": "/home/me/.pyenv/shims/python3"})

	desc, err := l.Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if desc.Source != SourcePath || desc.Version != "3.13.0" {
		t.Errorf("Locate() = %+v", desc)
	}
	if n := runner.callsFor("/home/me/.pyenv/shims/python3"); n != 2 {
		t.Errorf("duplicate PATH entries probed %d times, want 2 calls total", n)
	}
}

func TestLocate_NoCandidates(t *testing.T) {
	t.Parallel()

	l := newTestLocator(Options{Runner: &fakeRunner{}}, nil, nil)
	_, err := l.Locate(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Locate() = %v, want ErrNotFound", err)
	}
}

func TestLocate_SandboxSkipsSystemLocations(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{interp: map[string]fakeInterpreter{"/usr/bin/python3": {version: "3.12.0"}}}
	l := newTestLocator(Options{Runner: runner}, []string{"/usr/bin/python3"}, nil, "/usr/bin/python3")
	l.sandboxed = func() bool { return true }

	if _, err := l.Locate(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Locate() in sandbox = %v, want ErrNotFound", err)
	}
}

func TestLocate_Cancelled(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{interp: map[string]fakeInterpreter{"/usr/bin/python3": {version: "3.12.0"}}}
	l := newTestLocator(Options{Runner: runner}, []string{"/usr/bin/python3"}, nil, "/usr/bin/python3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Locate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Locate() = %v, want context.Canceled", err)
	}
}

func TestVerify_VenvProbe(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{interp: map[string]fakeInterpreter{
		"/usr/bin/python3": {version: "3.12.0", venvBroken: true},
	}}
	l := newTestLocator(Options{Runner: runner, ProbeVenv: true}, nil, nil)

	_, err := l.Verify(context.Background(), "/usr/bin/python3", SourceSystem)
	if err == nil || !strings.Contains(err.Error(), "virtual environments") {
		t.Errorf("Verify() = %v, want venv capability failure", err)
	}
}

func TestImportScript(t *testing.T) {
	t.Parallel()

	l := New(Options{})
	if got := l.ImportScript(); got != "import flask, flask_cors, dotenv, git" {
		t.Errorf("ImportScript() = %q", got)
	}
}
