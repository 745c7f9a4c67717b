package container_service_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cloudfoundry.org/ironframe/container_service"
)

var _ = Describe("Handles", func() {
	Describe("GenerateHandle", func() {
		It("returns 11 lowercase alphanumeric characters", func() {
			handle, err := container_service.GenerateHandle()
			Expect(err).ToNot(HaveOccurred())
			Expect(handle).To(MatchRegexp(`^[a-z0-9]{11}$`))
		})

		It("returns a different handle each time", func() {
			first, err := container_service.GenerateHandle()
			Expect(err).ToNot(HaveOccurred())

			second, err := container_service.GenerateHandle()
			Expect(err).ToNot(HaveOccurred())

			Expect(first).ToNot(Equal(second))
		})
	})

	Describe("GenerateID", func() {
		It("is 18 hex characters", func() {
			Expect(container_service.GenerateID("some-handle")).To(MatchRegexp(`^[0-9a-f]{18}$`))
		})

		It("is stable for a handle", func() {
			Expect(container_service.GenerateID("some-handle")).To(Equal(container_service.GenerateID("some-handle")))
		})

		It("differs between handles", func() {
			Expect(container_service.GenerateID("some-handle")).ToNot(Equal(container_service.GenerateID("other-handle")))
		})

		It("keeps the user name within the account name limit", func() {
			Expect(len("c_" + container_service.GenerateID("some-handle"))).To(BeNumerically("<=", 20))
		})
	})
})
