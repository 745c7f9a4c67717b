package container_host

import (
	"os"
	"path/filepath"
)

const DefaultHostExe = "containerhost.exe"

// DependencyHelper names the files a container host needs in a container's
// bin directory. Dependencies are file names in the same directory as the
// host executable.
type DependencyHelper struct {
	HostExePath  string
	Dependencies []string
}

func NewDependencyHelper(hostExePath string, dependencies ...string) *DependencyHelper {
	return &DependencyHelper{
		HostExePath:  hostExePath,
		Dependencies: dependencies,
	}
}

// DefaultHostExePath is the host executable installed next to the running
// binary.
func DefaultHostExePath() string {
	executable, err := os.Executable()
	if err != nil {
		return DefaultHostExe
	}

	return filepath.Join(filepath.Dir(executable), DefaultHostExe)
}

func (h *DependencyHelper) HostExe() string {
	return filepath.Base(h.HostExePath)
}

// Files returns the source paths of the host executable followed by its
// dependencies.
func (h *DependencyHelper) Files() []string {
	dir := filepath.Dir(h.HostExePath)

	files := []string{h.HostExePath}
	for _, dependency := range h.Dependencies {
		files = append(files, filepath.Join(dir, filepath.Base(dependency)))
	}

	return files
}
