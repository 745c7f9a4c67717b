package daemon

import (
	"fmt"
	"sort"
	"sync"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/transport"
)

type ProcessTracker struct {
	processes      map[string]ironframe.Process
	processesMutex *sync.RWMutex
}

type UnknownProcessError struct {
	Key string
}

func (e UnknownProcessError) Error() string {
	return fmt.Sprintf("unknown process: %s", e.Key)
}

func (e UnknownProcessError) AsRPCError() *transport.RPCError {
	return &transport.RPCError{Code: transport.CodeProcessNotFound, Message: "unknown process", Data: e.Key}
}

type DuplicateProcessError struct {
	Key string
}

func (e DuplicateProcessError) Error() string {
	return fmt.Sprintf("a process with key '%s' is already being tracked", e.Key)
}

func NewProcessTracker() *ProcessTracker {
	return &ProcessTracker{
		processes:      make(map[string]ironframe.Process),
		processesMutex: new(sync.RWMutex),
	}
}

func (t *ProcessTracker) Track(key string, process ironframe.Process) error {
	t.processesMutex.Lock()
	defer t.processesMutex.Unlock()

	if _, found := t.processes[key]; found {
		return DuplicateProcessError{key}
	}

	t.processes[key] = process

	return nil
}

func (t *ProcessTracker) IsTracked(key string) bool {
	t.processesMutex.RLock()
	defer t.processesMutex.RUnlock()

	_, found := t.processes[key]
	return found
}

func (t *ProcessTracker) Lookup(key string) (ironframe.Process, error) {
	t.processesMutex.RLock()
	defer t.processesMutex.RUnlock()

	process, found := t.processes[key]
	if !found {
		return nil, UnknownProcessError{key}
	}

	return process, nil
}

// FindById returns the key of the tracked process with the given OS process
// id, or an empty key.
func (t *ProcessTracker) FindById(id int) (string, ironframe.Process) {
	t.processesMutex.RLock()
	defer t.processesMutex.RUnlock()

	for key, process := range t.processes {
		if process.ID() == id {
			return key, process
		}
	}

	return "", nil
}

func (t *ProcessTracker) Remove(key string) bool {
	t.processesMutex.Lock()
	defer t.processesMutex.Unlock()

	_, found := t.processes[key]
	delete(t.processes, key)

	return found
}

// ActiveProcesses returns the tracked processes ordered by key.
func (t *ProcessTracker) ActiveProcesses() []ironframe.Process {
	t.processesMutex.RLock()
	defer t.processesMutex.RUnlock()

	keys := make([]string, 0, len(t.processes))
	for key := range t.processes {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	processes := make([]ironframe.Process, 0, len(keys))
	for _, key := range keys {
		processes = append(processes, t.processes[key])
	}

	return processes
}
