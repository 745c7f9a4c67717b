package jobobject_test

import (
	"errors"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/jobobject"
	"code.cloudfoundry.org/ironframe/jobobject/fake_job_object"
)

var _ = Describe("Limits", func() {
	var fakeJob *fake_job_object.FakeJobObject
	var fakeClock *fakeclock.FakeClock
	var limits *jobobject.Limits
	var notifications int32

	notified := func() int32 {
		return atomic.LoadInt32(&notifications)
	}

	BeforeEach(func() {
		fakeJob = fake_job_object.New()
		fakeClock = fakeclock.NewFakeClock(time.Now())
		atomic.StoreInt32(&notifications, 0)

		limits = jobobject.NewLimits(fakeJob, fakeClock, time.Second, lagertest.NewTestLogger("test"))
		limits.OnMemoryLimitReached(func() {
			atomic.AddInt32(&notifications, 1)
		})
	})

	AfterEach(func() {
		Expect(limits.Close()).To(Succeed())
	})

	It("does not poll until a memory limit is set", func() {
		Consistently(fakeClock.WatcherCount).Should(Equal(0))
	})

	Describe("limiting memory", func() {
		It("sets the job memory limit", func() {
			Expect(limits.LimitMemory(1024)).To(Succeed())
			Expect(fakeJob.GetJobMemoryLimit()).To(Equal(uint64(1024)))
		})

		It("starts polling", func() {
			Expect(limits.LimitMemory(1024)).To(Succeed())
			Eventually(fakeClock.WatcherCount).Should(Equal(1))
		})

		It("polls once no matter how often the limit is set", func() {
			Expect(limits.LimitMemory(1024)).To(Succeed())
			Expect(limits.LimitMemory(2048)).To(Succeed())
			Eventually(fakeClock.WatcherCount).Should(Equal(1))
			Consistently(fakeClock.WatcherCount).Should(Equal(1))
		})

		Context("when setting the limit fails", func() {
			nastyError := errors.New("oh no!")

			BeforeEach(func() {
				fakeJob.SetMemoryLimitError = nastyError
			})

			It("returns the error and does not poll", func() {
				Expect(limits.LimitMemory(1024)).To(Equal(nastyError))
				Consistently(fakeClock.WatcherCount).Should(Equal(0))
			})
		})
	})

	Context("when the peak memory reaches the limit", func() {
		BeforeEach(func() {
			Expect(limits.LimitMemory(1024)).To(Succeed())
			fakeJob.SetPeakJobMemoryUsed(1024)
		})

		It("notifies once", func() {
			fakeClock.WaitForWatcherAndIncrement(time.Second)
			Eventually(notified).Should(Equal(int32(1)))

			fakeClock.Increment(time.Second)
			Consistently(notified).Should(Equal(int32(1)))
		})

		It("notifies again when the peak changes", func() {
			fakeClock.WaitForWatcherAndIncrement(time.Second)
			Eventually(notified).Should(Equal(int32(1)))

			fakeJob.SetPeakJobMemoryUsed(4096)

			fakeClock.Increment(time.Second)
			Eventually(notified).Should(Equal(int32(2)))
		})

		It("notifies again when the limit is lowered below the peak", func() {
			fakeClock.WaitForWatcherAndIncrement(time.Second)
			Eventually(notified).Should(Equal(int32(1)))

			Expect(limits.LimitMemory(512)).To(Succeed())

			fakeClock.Increment(time.Second)
			Eventually(notified).Should(Equal(int32(2)))
		})

		It("uses the most recently registered callback", func() {
			var replaced int32
			limits.OnMemoryLimitReached(func() {
				atomic.AddInt32(&replaced, 1)
			})

			fakeClock.WaitForWatcherAndIncrement(time.Second)
			Eventually(func() int32 { return atomic.LoadInt32(&replaced) }).Should(Equal(int32(1)))
			Expect(notified()).To(Equal(int32(0)))
		})
	})

	Context("when the peak memory stays below the limit", func() {
		BeforeEach(func() {
			Expect(limits.LimitMemory(4096)).To(Succeed())
			fakeJob.SetPeakJobMemoryUsed(1024)
		})

		It("does not notify", func() {
			fakeClock.WaitForWatcherAndIncrement(time.Second)
			fakeClock.Increment(time.Second)
			Consistently(notified).Should(Equal(int32(0)))
		})
	})

	Context("when reading the peak memory fails", func() {
		BeforeEach(func() {
			Expect(limits.LimitMemory(1024)).To(Succeed())
			fakeJob.SetPeakJobMemoryUsed(2048)
			fakeJob.Lock()
			fakeJob.GetPeakMemoryError = errors.New("oh no!")
			fakeJob.Unlock()
		})

		It("does not notify", func() {
			fakeClock.WaitForWatcherAndIncrement(time.Second)
			Consistently(notified).Should(Equal(int32(0)))
		})
	})

	Context("when closed", func() {
		It("stops polling", func() {
			Expect(limits.LimitMemory(1024)).To(Succeed())
			Eventually(fakeClock.WatcherCount).Should(Equal(1))

			Expect(limits.Close()).To(Succeed())
			Eventually(fakeClock.WatcherCount).Should(Equal(0))
		})

		It("refuses new limits", func() {
			Expect(limits.Close()).To(Succeed())
			Expect(limits.LimitMemory(1024)).To(MatchError(ironframe.ErrDisposed))
		})
	})
})
