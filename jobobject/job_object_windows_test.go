//go:build windows

package jobobject_test

import (
	"errors"
	"os/exec"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/jobobject"
)

var _ = Describe("KernelJobObject", func() {
	var job *jobobject.KernelJobObject

	BeforeEach(func() {
		var err error
		job, err = jobobject.New("ironframe-test-" + uuid.NewString())
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(job.Close()).To(Succeed())
	})

	startProcess := func() *exec.Cmd {
		cmd := exec.Command("ping.exe", "-n", "30", "127.0.0.1")
		Expect(cmd.Start()).To(Succeed())
		return cmd
	}

	Describe("cpu limits", func() {
		It("rejects rates outside [1, 10000]", func() {
			Expect(errors.Is(job.SetJobCpuLimit(0), ironframe.ErrInvalidArgument)).To(BeTrue())
			Expect(errors.Is(job.SetJobCpuLimit(10001), ironframe.ErrInvalidArgument)).To(BeTrue())
		})

		It("returns the rate that was set", func() {
			Expect(job.SetJobCpuLimit(100)).To(Succeed())
			Expect(job.GetJobCpuLimit()).To(Equal(100))
		})
	})

	Describe("memory limits", func() {
		It("reports zero before a limit is set", func() {
			Expect(job.GetJobMemoryLimit()).To(BeZero())
			Expect(job.GetPeakJobMemoryUsed()).To(BeZero())
		})

		It("returns the limit that was set", func() {
			Expect(job.SetJobMemoryLimit(1024 * 1024 * 64)).To(Succeed())
			Expect(job.GetJobMemoryLimit()).To(Equal(uint64(1024 * 1024 * 64)))
		})
	})

	Describe("process ids", func() {
		It("is empty for a new job", func() {
			Expect(job.GetProcessIds()).To(BeEmpty())
		})

		It("contains every assigned process", func() {
			var pids []int
			for i := 0; i < 7; i++ {
				cmd := startProcess()
				Expect(job.AssignProcessToJob(cmd.Process.Pid)).To(Succeed())
				pids = append(pids, cmd.Process.Pid)
			}

			Expect(job.GetProcessIds()).To(ConsistOf(pids))

			Expect(job.TerminateProcessesAndWait(5 * time.Second)).To(Succeed())
		})
	})

	Describe("closing", func() {
		It("fails every accessor afterwards", func() {
			Expect(job.Close()).To(Succeed())

			_, err := job.GetProcessIds()
			Expect(err).To(MatchError(ironframe.ErrDisposed))

			_, err = job.GetCpuStatistics()
			Expect(err).To(MatchError(ironframe.ErrDisposed))

			Expect(job.SetJobMemoryLimit(1)).To(MatchError(ironframe.ErrDisposed))
		})
	})
})
