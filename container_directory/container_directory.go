package container_directory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/file_system"
)

const (
	binRelativePath     = "bin"
	userRelativePath    = "user"
	privateRelativePath = "private"
)

// ContainerDirectory is the private tree of one container:
//
//	{base}/{id}/bin      host executable, readable by the container user
//	{base}/{id}/user     the container user's working area
//	{base}/{id}/private  service state, hidden from the container user
type ContainerDirectory struct {
	fileSystem file_system.FileSystemManager

	rootPath    string
	binPath     string
	userPath    string
	privatePath string
}

func Restore(fileSystem file_system.FileSystemManager, containerPath string) *ContainerDirectory {
	root := canonicalize(containerPath)

	return &ContainerDirectory{
		fileSystem: fileSystem,

		rootPath:    root,
		binPath:     filepath.Join(root, binRelativePath),
		userPath:    filepath.Join(root, userRelativePath),
		privatePath: filepath.Join(root, privateRelativePath),
	}
}

// Create builds the directory tree for a new container. owners keep full
// access to every directory; userName gets read access to the root and bin
// and full access to user. A partially created tree is removed before
// returning an error.
func Create(fileSystem file_system.FileSystemManager, basePath, id, userName string, owners []string) (*ContainerDirectory, error) {
	directory := Restore(fileSystem, filepath.Join(basePath, id))

	err := directory.createSubdirectories(userName, owners)
	if err != nil {
		return nil, errors.Join(err, directory.Destroy())
	}

	return directory, nil
}

func (d *ContainerDirectory) createSubdirectories(userName string, owners []string) error {
	steps := []struct {
		path   string
		access []file_system.UserAccess
	}{
		{d.rootPath, userAccess(owners, userName, file_system.AccessRead)},
		{d.privatePath, userAccess(owners, "", 0)},
		{d.binPath, userAccess(owners, userName, file_system.AccessRead)},
		{d.userPath, userAccess(owners, userName, file_system.AccessReadWrite)},
	}

	for _, step := range steps {
		err := d.fileSystem.CreateDirectory(step.path, step.access)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *ContainerDirectory) RootPath() string {
	return d.rootPath
}

// UserPath has a trailing separator.
func (d *ContainerDirectory) UserPath() string {
	return d.userPath + string(filepath.Separator)
}

// BinPath has a trailing separator.
func (d *ContainerDirectory) BinPath() string {
	return d.binPath + string(filepath.Separator)
}

func (d *ContainerDirectory) MapBinPath(path string) (string, error) {
	return mapContainerPath(d.binPath, path)
}

func (d *ContainerDirectory) MapUserPath(path string) (string, error) {
	return mapContainerPath(d.userPath, path)
}

func (d *ContainerDirectory) MapPrivatePath(path string) (string, error) {
	return mapContainerPath(d.privatePath, path)
}

// Destroy removes the whole tree. A tree that is already gone is not an
// error.
func (d *ContainerDirectory) Destroy() error {
	err := d.fileSystem.DeleteDirectory(d.rootPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// mapContainerPath resolves path beneath base. Leading separators are
// ignored so "/app" and "app" map to the same place. Paths carrying a
// volume name are taken as they are but must still resolve beneath base.
func mapContainerPath(base, path string) (string, error) {
	if filepath.VolumeName(path) == "" {
		path = strings.TrimLeft(path, `/\`)

		if strings.TrimSpace(path) == "" {
			return base + string(filepath.Separator), nil
		}

		path = filepath.Join(base, path)
	}

	mapped := canonicalize(path)

	if !isWithin(base, mapped) {
		return "", ironframe.InvalidArgument("%s is not a valid container path", path)
	}

	return mapped, nil
}

func isWithin(base, path string) bool {
	if strings.EqualFold(path, base) {
		return true
	}

	prefix := base + string(filepath.Separator)

	return len(path) > len(prefix) && strings.EqualFold(path[:len(prefix)], prefix)
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}

	return abs
}

func userAccess(owners []string, userName string, access file_system.FileAccess) []file_system.UserAccess {
	result := make([]file_system.UserAccess, 0, len(owners)+1)

	for _, owner := range owners {
		result = append(result, file_system.UserAccess{UserName: owner, Access: file_system.AccessReadWrite})
	}

	if userName != "" && access != 0 {
		result = append(result, file_system.UserAccess{UserName: userName, Access: access})
	}

	return result
}
