package file_system

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/lager/v3"
	"github.com/spf13/afero"
)

type FileAccess int

const (
	AccessRead FileAccess = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

type UserAccess struct {
	UserName string
	Access   FileAccess
}

// ACLApplier replaces the access list of an existing directory with
// explicit entries for the given principals.
type ACLApplier interface {
	ApplyAccess(path string, access []UserAccess) error
}

type FileSystemManager interface {
	// CreateDirectory creates path and its parents. If access is non-empty
	// path is restricted to exactly those principals.
	CreateDirectory(path string, access []UserAccess) error

	// DeleteDirectory removes path recursively. Deleting a missing
	// directory returns an error satisfying os.IsNotExist.
	DeleteDirectory(path string) error

	// CopyFile copies a single file, creating the destination's parent
	// directory and overwriting any existing file.
	CopyFile(sourcePath, destinationPath string) error

	EnumerateDirectories(path string) ([]string, error)

	FileExists(path string) bool
	DirectoryExists(path string) bool

	Fs() afero.Fs
}

type Manager struct {
	fs     afero.Fs
	acl    ACLApplier
	logger lager.Logger
}

func New(fs afero.Fs, acl ACLApplier, logger lager.Logger) *Manager {
	return &Manager{
		fs:     fs,
		acl:    acl,
		logger: logger.Session("file-system"),
	}
}

func (m *Manager) Fs() afero.Fs {
	return m.fs
}

func (m *Manager) CreateDirectory(path string, access []UserAccess) error {
	err := m.fs.MkdirAll(path, 0755)
	if err != nil {
		m.logger.Error("failed-to-create-directory", err, lager.Data{"path": path})
		return err
	}

	if len(access) == 0 {
		return nil
	}

	err = m.acl.ApplyAccess(path, access)
	if err != nil {
		m.logger.Error("failed-to-apply-access", err, lager.Data{"path": path})
		return err
	}

	return nil
}

func (m *Manager) DeleteDirectory(path string) error {
	exists, err := afero.DirExists(m.fs, path)
	if err != nil {
		return err
	}

	if !exists {
		return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
	}

	return m.fs.RemoveAll(path)
}

func (m *Manager) CopyFile(sourcePath, destinationPath string) error {
	if m.DirectoryExists(sourcePath) {
		return ironframe.InvalidArgument("copy source %s is a directory", sourcePath)
	}

	if m.DirectoryExists(destinationPath) {
		return ironframe.InvalidArgument("copy destination %s is a directory", destinationPath)
	}

	source, err := m.fs.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return err
	}

	err = m.fs.MkdirAll(filepath.Dir(destinationPath), 0755)
	if err != nil {
		return err
	}

	destination, err := m.fs.OpenFile(destinationPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	_, err = io.Copy(destination, source)
	if err != nil {
		destination.Close()
		return fmt.Errorf("copy %s: %w", sourcePath, err)
	}

	return destination.Close()
}

// EnumerateDirectories returns the full paths of the directories directly
// under path, sorted by name.
func (m *Manager) EnumerateDirectories(path string) ([]string, error) {
	infos, err := afero.ReadDir(m.fs, path)
	if err != nil {
		return nil, err
	}

	directories := []string{}
	for _, info := range infos {
		if info.IsDir() {
			directories = append(directories, filepath.Join(path, info.Name()))
		}
	}

	sort.Strings(directories)

	return directories, nil
}

func (m *Manager) FileExists(path string) bool {
	info, err := m.fs.Stat(path)
	return err == nil && !info.IsDir()
}

func (m *Manager) DirectoryExists(path string) bool {
	exists, err := afero.DirExists(m.fs, path)
	return err == nil && exists
}
