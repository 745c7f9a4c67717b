package daemon_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/container_host/daemon"
	"code.cloudfoundry.org/ironframe/process_runner/fake_process_runner"
)

var _ = Describe("ProcessTracker", func() {
	var (
		tracker *daemon.ProcessTracker
		first   *fake_process_runner.FakeProcess
		second  *fake_process_runner.FakeProcess
	)

	BeforeEach(func() {
		tracker = daemon.NewProcessTracker()
		first = fake_process_runner.NewFakeProcess(10, nil)
		second = fake_process_runner.NewFakeProcess(20, nil)

		Expect(tracker.Track("key-b", second)).To(Succeed())
		Expect(tracker.Track("key-a", first)).To(Succeed())
	})

	It("looks processes up by key", func() {
		process, err := tracker.Lookup("key-a")
		Expect(err).ToNot(HaveOccurred())
		Expect(process).To(Equal(first))
	})

	It("fails to look up an unknown key", func() {
		_, err := tracker.Lookup("bogus")
		Expect(err).To(MatchError("unknown process: bogus"))
	})

	It("refuses to track a key twice", func() {
		err := tracker.Track("key-a", second)
		Expect(err).To(Equal(daemon.DuplicateProcessError{Key: "key-a"}))

		process, err := tracker.Lookup("key-a")
		Expect(err).ToNot(HaveOccurred())
		Expect(process).To(Equal(first))
	})

	It("finds processes by their OS id", func() {
		key, process := tracker.FindById(20)
		Expect(key).To(Equal("key-b"))
		Expect(process).To(Equal(second))

		key, process = tracker.FindById(30)
		Expect(key).To(BeEmpty())
		Expect(process).To(BeNil())
	})

	It("lists the active processes ordered by key", func() {
		Expect(tracker.ActiveProcesses()).To(Equal([]ironframe.Process{first, second}))
	})

	It("removes processes", func() {
		Expect(tracker.Remove("key-a")).To(BeTrue())
		Expect(tracker.Remove("key-a")).To(BeFalse())

		Expect(tracker.IsTracked("key-a")).To(BeFalse())
		Expect(tracker.ActiveProcesses()).To(Equal([]ironframe.Process{second}))
	})
})
