package property_service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/lager/v3"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

const (
	PropertiesFileName = "properties.json"

	lockAttempts   = 10
	lockRetryDelay = 250 * time.Millisecond
)

var ErrPropertiesLocked = errors.New("properties file is locked")

type PropertyService interface {
	// GetProperty returns nil if the property is not set.
	GetProperty(name string) (*string, error)
	GetProperties() (ironframe.Properties, error)
	SetProperty(name, value string) error
	// SetProperties replaces every stored property.
	SetProperties(properties ironframe.Properties) error
	RemoveProperty(name string) error
}

// LocalFilePropertyService stores a property map as a JSON object in one
// file. Every access holds an advisory lock on a sibling .lock file, so
// concurrent writers are serialized but never merged.
type LocalFilePropertyService struct {
	fs     afero.Fs
	path   string
	clock  clock.Clock
	logger lager.Logger

	// the file lock does not exclude goroutines sharing one Flock
	mu   sync.Mutex
	lock *flock.Flock
}

func New(fs afero.Fs, path string, clock clock.Clock, logger lager.Logger) *LocalFilePropertyService {
	return &LocalFilePropertyService{
		fs:     fs,
		path:   path,
		lock:   flock.New(path + ".lock"),
		clock:  clock,
		logger: logger.Session("properties", lager.Data{"path": path}),
	}
}

func (s *LocalFilePropertyService) GetProperty(name string) (*string, error) {
	properties, err := s.GetProperties()
	if err != nil {
		return nil, err
	}

	value, found := properties[name]
	if !found {
		return nil, nil
	}

	return &value, nil
}

func (s *LocalFilePropertyService) GetProperties() (ironframe.Properties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.acquire(s.lock.TryRLock)
	if err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	return s.read()
}

func (s *LocalFilePropertyService) SetProperty(name, value string) error {
	return s.update(func(properties ironframe.Properties) {
		properties[name] = value
	})
}

func (s *LocalFilePropertyService) SetProperties(properties ironframe.Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.acquire(s.lock.TryLock)
	if err != nil {
		return err
	}
	defer s.lock.Unlock()

	if properties == nil {
		properties = ironframe.Properties{}
	}

	return s.write(properties)
}

func (s *LocalFilePropertyService) RemoveProperty(name string) error {
	return s.update(func(properties ironframe.Properties) {
		delete(properties, name)
	})
}

func (s *LocalFilePropertyService) update(change func(ironframe.Properties)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.acquire(s.lock.TryLock)
	if err != nil {
		return err
	}
	defer s.lock.Unlock()

	properties, err := s.read()
	if err != nil {
		return err
	}

	change(properties)

	return s.write(properties)
}

// acquire tries to take the lock a bounded number of times, sleeping
// between attempts, and returns the last failure.
func (s *LocalFilePropertyService) acquire(tryLock func() (bool, error)) error {
	var lastErr error

	for attempt := 1; attempt <= lockAttempts; attempt++ {
		locked, err := tryLock()
		if err == nil && locked {
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = ErrPropertiesLocked
		}

		if attempt < lockAttempts {
			s.logger.Debug("lock-busy", lager.Data{"attempt": attempt})
			s.clock.Sleep(lockRetryDelay)
		}
	}

	s.logger.Error("failed-to-lock", lastErr)

	return lastErr
}

func (s *LocalFilePropertyService) read() (ironframe.Properties, error) {
	contents, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ironframe.Properties{}, nil
		}

		return nil, err
	}

	properties := ironframe.Properties{}
	if len(contents) == 0 {
		return properties, nil
	}

	err = json.Unmarshal(contents, &properties)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}

	if properties == nil {
		properties = ironframe.Properties{}
	}

	return properties, nil
}

func (s *LocalFilePropertyService) write(properties ironframe.Properties) error {
	contents, err := json.Marshal(properties)
	if err != nil {
		return err
	}

	file, err := s.fs.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	_, err = file.Write(contents)
	if err != nil {
		file.Close()
		return err
	}

	return file.Close()
}
