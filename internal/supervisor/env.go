// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/pkg/platform"
	"github.com/newrev/newrev/pkg/types"
)

// Environment variables the backend reads.
const (
	EnvUnbuffered     = "PYTHONUNBUFFERED"
	EnvWaitForProject = "NEWREV_WAIT_FOR_PROJECT"
	EnvProjectPath    = "NEWREV_PROJECT_PATH"
	EnvBackendPort    = "NEWREV_BACKEND_PORT"
)

// backendEnv computes the child environment from base. The project path is
// passed as data; an empty path tells the backend to wait until the user
// picks one.
func backendEnv(base []string, desc runtimeenv.Descriptor, appRoot, projectPath string, port types.ListenPort) []string {
	env := envMap{goos: runtime.GOOS}
	env.load(base)

	env.set(EnvUnbuffered, "1")
	env.set(EnvWaitForProject, strconv.FormatBool(projectPath == ""))
	env.set(EnvProjectPath, projectPath)
	env.set(EnvBackendPort, strconv.Itoa(int(port)))

	if venv := venvRoot(desc.Path); venv != "" {
		env.set("VIRTUAL_ENV", venv)
		env.prepend("PATH", platform.VenvBinDir(venv))
		env.unset("PYTHONHOME")
	}
	if appRoot != "" {
		env.prepend("PYTHONPATH", appRoot)
	}
	return env.list()
}

// venvRoot returns the virtual environment containing interpreter, or ""
// when it is a plain install. A venv is recognized by its pyvenv.cfg.
func venvRoot(interpreter string) string {
	root := filepath.Dir(filepath.Dir(interpreter))
	if _, err := os.Stat(filepath.Join(root, "pyvenv.cfg")); err != nil {
		return ""
	}
	return root
}

// envMap is an ordered environment with OS-appropriate key matching.
type envMap struct {
	goos string
	keys []string
	vals map[string]string
}

func (m *envMap) norm(k string) string {
	if m.goos == platform.Windows {
		return strings.ToUpper(k)
	}
	return k
}

func (m *envMap) load(base []string) {
	m.vals = make(map[string]string, len(base))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m.set(k, v)
	}
}

func (m *envMap) get(k string) (string, bool) {
	v, ok := m.vals[m.norm(k)]
	return v, ok
}

func (m *envMap) set(k, v string) {
	n := m.norm(k)
	if _, ok := m.vals[n]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[n] = v
}

func (m *envMap) unset(k string) {
	n := m.norm(k)
	delete(m.vals, n)
	for i, key := range m.keys {
		if m.norm(key) == n {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return
		}
	}
}

func (m *envMap) prepend(k, dir string) {
	if cur, ok := m.get(k); ok && cur != "" {
		m.set(k, dir+string(os.PathListSeparator)+cur)
		return
	}
	m.set(k, dir)
}

func (m *envMap) list() []string {
	out := make([]string, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k+"="+m.vals[m.norm(k)])
	}
	return out
}
