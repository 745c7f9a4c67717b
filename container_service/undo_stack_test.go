package container_service_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cloudfoundry.org/ironframe/container_service"
)

var _ = Describe("UndoStack", func() {
	var (
		undo *container_service.UndoStack
		ran  []string
	)

	BeforeEach(func() {
		undo = &container_service.UndoStack{}
		ran = nil
	})

	action := func(name string, err error) func() error {
		return func() error {
			ran = append(ran, name)
			return err
		}
	}

	It("runs the actions most recent first", func() {
		undo.Push(action("first", nil))
		undo.Push(action("second", nil))
		undo.Push(action("third", nil))

		Expect(undo.UndoAll()).To(Succeed())
		Expect(ran).To(Equal([]string{"third", "second", "first"}))
	})

	It("keeps going after a failure and returns every failure", func() {
		firstErr := errors.New("first failed")
		thirdErr := errors.New("third failed")

		undo.Push(action("first", firstErr))
		undo.Push(action("second", nil))
		undo.Push(action("third", thirdErr))

		err := undo.UndoAll()
		Expect(ran).To(Equal([]string{"third", "second", "first"}))
		Expect(err).To(MatchError(ContainSubstring("third failed")))
		Expect(errors.Is(err, firstErr)).To(BeTrue())
		Expect(errors.Is(err, thirdErr)).To(BeTrue())
		Expect(err.Error()).To(Equal("third failed\nfirst failed"))
	})

	It("does nothing when empty", func() {
		Expect(undo.UndoAll()).To(Succeed())
	})

	It("does not run actions twice", func() {
		undo.Push(action("first", nil))

		Expect(undo.UndoAll()).To(Succeed())
		Expect(undo.UndoAll()).To(Succeed())
		Expect(ran).To(Equal([]string{"first"}))
	})
})
