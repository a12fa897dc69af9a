// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

const (
	RuntimeNotFoundId Id = iota + 1
	ProvisionFailedId
	UnsupportedPlatformId
	PortInUseId
	StartupTimeoutId
	DependencyMissingId
	UnexpectedExitId
	InvalidStateId
	ConfigLoadFailedId
	ControlServerStartFailedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the markdown body rendered for an issue.
	MarkdownMsg string

	HttpLink string

	// Issue is one remediation page of the catalog.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		extLinks []HttpLink // external pages worth reading, may be empty
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal markdown using the glamour style at
// stylePath ("dark", "light", "notty" or a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.extLinks) > 0 {
		md += "\n\n## See also\n"
		for _, link := range i.extLinks {
			md += "- <" + string(link) + ">\n"
		}
	}
	return render(md, stylePath)
}

//nolint:gochecknoglobals // immutable catalog; render is a test seam
var (
	render = glamour.Render

	runtimeNotFoundIssue = &Issue{
		id: RuntimeNotFoundId,
		mdMsg: `
# No usable Python interpreter

newrev looked for a Python 3.10+ interpreter that can import **flask**,
**flask_cors**, **dotenv** and **git**, and none of the candidates passed.

## Things you can try
- See why each candidate was rejected:
~~~
$ newrev runtime locate
~~~
- Let newrev install an isolated runtime:
~~~
$ newrev runtime provision
~~~
- Or point newrev at an interpreter you manage yourself in ` + "`config.cue`" + `:
~~~cue
runtime: python_path: "/usr/local/bin/python3.12"
~~~`,
		extLinks: []HttpLink{"https://www.python.org/downloads/"},
	}

	provisionFailedIssue = &Issue{
		id: ProvisionFailedId,
		mdMsg: `
# Runtime provisioning failed

Downloading or installing the isolated Python runtime did not complete.
The partial installation was removed, so retrying starts from scratch.

## Things you can try
- Check your network connection and any proxy settings (` + "`HTTPS_PROXY`" + `).
- Retry with diagnostic output:
~~~
$ newrev runtime provision --verbose
~~~
- If package installation failed, check that the requirements file in the
  backend directory lists installable packages.`,
		extLinks: []HttpLink{"https://github.com/astral-sh/python-build-standalone/releases"},
	}

	unsupportedPlatformIssue = &Issue{
		id: UnsupportedPlatformId,
		mdMsg: `
# No portable runtime for this platform

Portable interpreter builds exist for linux, macOS and Windows on amd64 and
arm64 only. Install Python 3.10+ yourself and set ` + "`runtime.python_path`" + `.`,
	}

	portInUseIssue = &Issue{
		id: PortInUseId,
		mdMsg: `
# The backend port is already taken

Another program is listening on the port the backend needs, so newrev did not
start it.

## Things you can try
- Close the conflicting program (the error names it when it can be identified).
- See who holds the port:
~~~
$ newrev port check
~~~
- Or move the backend to a different port in ` + "`config.cue`" + `:
~~~cue
backend: port: 5050
~~~`,
	}

	startupTimeoutIssue = &Issue{
		id: StartupTimeoutId,
		mdMsg: `
# The backend never reported it was ready

The process started, but did not print its "Running on" banner before the
startup timeout. The last lines it printed are shown above.

## Things you can try
- Inspect the full output:
~~~
$ newrev logs
~~~
- On slow machines raise ` + "`backend.startup_timeout`" + ` in ` + "`config.cue`" + `.`,
	}

	dependencyMissingIssue = &Issue{
		id: DependencyMissingId,
		mdMsg: `
# The backend is missing a Python package

The backend failed to import one of its dependencies.

## Things you can try
- Reinstall the isolated runtime and its packages:
~~~
$ newrev runtime clean
$ newrev runtime provision
~~~`,
		extLinks: []HttpLink{"https://pip.pypa.io/en/stable/user_guide/"},
	}

	unexpectedExitIssue = &Issue{
		id: UnexpectedExitId,
		mdMsg: `
# The backend exited unexpectedly

| Exit code | Meaning |
|-----------|---------|
| 1 | generic startup failure: port conflict, wrong working directory, or the project is not a git repository |
| 2 | a Python dependency could not be imported |

Start it again once the cause is fixed; newrev never restarts it on its own.`,
	}

	invalidStateIssue = &Issue{
		id: InvalidStateId,
		mdMsg: `
# The backend is busy

A start was requested while the backend was already starting, running or
stopping. Stop it first, or use restart to switch projects.`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration

## Things you can try
- Show where newrev reads its configuration from:
~~~
$ newrev config path
~~~
- Regenerate a default file:
~~~
$ newrev config init --force
~~~`,
		extLinks: []HttpLink{"https://cuelang.org/docs/"},
	}

	controlServerStartFailedIssue = &Issue{
		id: ControlServerStartFailedId,
		mdMsg: `
# The control server could not start

The local API used by the desktop shell could not bind its address.
Set ` + "`control.port`" + ` to 0 to let the OS pick a free port.`,
	}

	issues = map[Id]*Issue{
		runtimeNotFoundIssue.Id():          runtimeNotFoundIssue,
		provisionFailedIssue.Id():          provisionFailedIssue,
		unsupportedPlatformIssue.Id():      unsupportedPlatformIssue,
		portInUseIssue.Id():                portInUseIssue,
		startupTimeoutIssue.Id():           startupTimeoutIssue,
		dependencyMissingIssue.Id():        dependencyMissingIssue,
		unexpectedExitIssue.Id():           unexpectedExitIssue,
		invalidStateIssue.Id():             invalidStateIssue,
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		controlServerStartFailedIssue.Id(): controlServerStartFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
