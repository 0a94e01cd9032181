// Package paths resolves the engine's on-disk locations: the configuration
// home, the central specs root, and the home-relative ("~"-prefixed) paths
// stored inside manifests.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigHomeEnv overrides the default configuration root, mirroring the
// teacher's environment-driven override for its project directory.
const ConfigHomeEnv = "CLAUDE_HOME"

const (
	configDirName = "conduct"
	specsDirName  = "specs"
)

// Home resolves the engine's configuration root: $CLAUDE_HOME if set,
// otherwise ~/.conduct.
func Home() (string, error) {
	if v := strings.TrimSpace(os.Getenv(ConfigHomeEnv)); v != "" {
		return Expand(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("paths: resolve user home: %w", err)
	}
	return filepath.Join(home, "."+configDirName), nil
}

// SpecsRoot returns the central directory under which every spec directory
// lives, rooted at Home().
func SpecsRoot() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, specsDirName), nil
}

// Expand resolves a "~"-prefixed path against the user's home directory. A
// bare "~" or "~/..." is replaced; any other path is returned cleaned and
// unchanged (including already-absolute paths).
func Expand(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("paths: empty path")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("paths: resolve user home: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Clean(path), nil
}

// Collapse is the inverse of Expand: it rewrites an absolute path under the
// user's home directory back into a "~"-prefixed portable form, for
// serializing manifest paths. Paths outside the home directory are returned
// unchanged.
func Collapse(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(home, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	if rel == "." {
		return "~"
	}
	return filepath.ToSlash(filepath.Join("~", rel))
}

// SpecRef identifies one spec directory by its "project/name" reference, or
// by a full absolute path.
type SpecRef struct {
	Project string
	Name    string
}

// ParseSpecRef splits a "project/name" reference. A bare absolute path is rejected;
// callers should check filepath.IsAbs first and use the path directly.
func ParseSpecRef(ref string) (SpecRef, error) {
	ref = strings.TrimSpace(ref)
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SpecRef{}, fmt.Errorf("paths: spec reference must be project/name, got %q", ref)
	}
	return SpecRef{Project: parts[0], Name: parts[1]}, nil
}

// ResolveSpecArg turns a CLI --spec argument into the project directory
// <specs-root>/<project> plus the project and name, under which the caller
// globs <name>-* for the concrete spec directory. Absolute paths pass through
// untouched.
func ResolveSpecArg(arg string) (root string, project string, name string, err error) {
	if filepath.IsAbs(arg) {
		return arg, "", "", nil
	}
	ref, err := ParseSpecRef(arg)
	if err != nil {
		return "", "", "", err
	}
	root, err = SpecsRoot()
	if err != nil {
		return "", "", "", err
	}
	return filepath.Join(root, ref.Project), ref.Project, ref.Name, nil
}
