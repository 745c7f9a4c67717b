package container_service

import "errors"

// UndoStack collects compensating actions while a multi-step operation is
// in progress.
type UndoStack struct {
	actions []func() error
}

func (s *UndoStack) Push(action func() error) {
	s.actions = append(s.actions, action)
}

// UndoAll runs every pushed action, most recent first, even when some of
// them fail. Failures are returned joined in the order they occurred.
func (s *UndoStack) UndoAll() error {
	var errs []error

	for i := len(s.actions) - 1; i >= 0; i-- {
		err := s.actions[i]()
		if err != nil {
			errs = append(errs, err)
		}
	}

	s.actions = nil

	return errors.Join(errs...)
}
