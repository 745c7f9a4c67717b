package jobobject_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/jobobject"
)

var _ = Describe("ValidateCpuRate", func() {
	It("accepts rates between 1 and 10000", func() {
		Expect(jobobject.ValidateCpuRate(1)).To(Succeed())
		Expect(jobobject.ValidateCpuRate(100)).To(Succeed())
		Expect(jobobject.ValidateCpuRate(10000)).To(Succeed())
	})

	It("rejects zero", func() {
		err := jobobject.ValidateCpuRate(0)
		Expect(errors.Is(err, ironframe.ErrInvalidArgument)).To(BeTrue())
	})

	It("rejects rates above 10000", func() {
		err := jobobject.ValidateCpuRate(10001)
		Expect(errors.Is(err, ironframe.ErrInvalidArgument)).To(BeTrue())
	})

	It("rejects negative rates", func() {
		err := jobobject.ValidateCpuRate(-5)
		Expect(errors.Is(err, ironframe.ErrInvalidArgument)).To(BeTrue())
	})
})

var _ = Describe("CPUStatistics", func() {
	It("sums kernel and user time", func() {
		stats := jobobject.CPUStatistics{
			TotalKernelTime: 2 * time.Second,
			TotalUserTime:   3 * time.Second,
		}

		Expect(stats.TotalProcessorTime()).To(Equal(5 * time.Second))
	})
})

var _ = Describe("Error", func() {
	It("names the operation and unwraps to the cause", func() {
		cause := errors.New("oh no!")
		err := &jobobject.Error{Op: "terminate", Err: cause}

		Expect(err.Error()).To(Equal("job object terminate: oh no!"))
		Expect(errors.Is(err, cause)).To(BeTrue())
	})
})
