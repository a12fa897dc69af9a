// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFallbackPackages is installed when the backend ships neither a
// requirements file nor a pyproject.toml.
//
//nolint:gochecknoglobals // read-only default
var DefaultFallbackPackages = []string{
	"flask",
	"flask-cors",
	"flask-socketio",
	"eventlet",
	"python-socketio",
	"python-engineio",
	"python-dotenv",
	"gitpython",
	"aider-chat",
}

type (
	// Manifest is what pip installs into the venv: a requirements file or
	// a package list.
	Manifest struct {
		RequirementsFile string
		Packages         []string
		// Origin names where the manifest came from, for progress messages.
		Origin string
	}

	pyproject struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
	}
)

// ResolveManifest picks the dependency source for the backend at appRoot.
// An explicit requirements file wins, then requirements.txt, then the
// [project] dependencies of pyproject.toml, then fallback.
func ResolveManifest(appRoot, requirementsFile string, fallback []string) (Manifest, error) {
	if requirementsFile != "" {
		if !filepath.IsAbs(requirementsFile) {
			requirementsFile = filepath.Join(appRoot, requirementsFile)
		}
		if _, err := os.Stat(requirementsFile); err != nil {
			return Manifest{}, fmt.Errorf("requirements file: %w", err)
		}
		return Manifest{RequirementsFile: requirementsFile, Origin: requirementsFile}, nil
	}

	if appRoot != "" {
		req := filepath.Join(appRoot, "requirements.txt")
		if _, err := os.Stat(req); err == nil {
			return Manifest{RequirementsFile: req, Origin: req}, nil
		}

		pp := filepath.Join(appRoot, "pyproject.toml")
		deps, err := pyprojectDependencies(pp)
		switch {
		case err == nil && len(deps) > 0:
			return Manifest{Packages: deps, Origin: pp}, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return Manifest{}, err
		}
	}

	if len(fallback) == 0 {
		fallback = DefaultFallbackPackages
	}
	return Manifest{Packages: fallback, Origin: "default package set"}, nil
}

// PipArgs returns the arguments after `python -m pip install`.
func (m Manifest) PipArgs() []string {
	if m.RequirementsFile != "" {
		return []string{"-r", m.RequirementsFile}
	}
	return append([]string(nil), m.Packages...)
}

func pyprojectDependencies(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pp pyproject
	if err := toml.Unmarshal(data, &pp); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return pp.Project.Dependencies, nil
}
