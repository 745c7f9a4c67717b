package container_service_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/lager/v3"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/command_runner"
	"code.cloudfoundry.org/ironframe/container_host/fake_container_host"
	"code.cloudfoundry.org/ironframe/container_service"
	"code.cloudfoundry.org/ironframe/process_runner"
)

var _ = Describe("ContainerService", func() {
	var (
		env     *testEnvironment
		service *container_service.ContainerService
	)

	BeforeEach(func() {
		env = newTestEnvironment()
	})

	JustBeforeEach(func() {
		service = env.newService()
	})

	AfterEach(func() {
		service.Close()
		env.cleanup()
	})

	Describe("Setup", func() {
		It("creates the user group", func() {
			Expect(env.userManager.Groups).To(HaveKey("IronFrameUsers"))
		})
	})

	Describe("Ping", func() {
		It("succeeds while the service is open", func() {
			Expect(service.Ping()).To(Succeed())
		})

		It("reports the service unavailable once closed", func() {
			Expect(service.Close()).To(Succeed())

			var unavailable ironframe.ServiceUnavailableError
			Expect(errors.As(service.Ping(), &unavailable)).To(BeTrue())
		})
	})

	Describe("CreateContainer", func() {
		var id string

		BeforeEach(func() {
			id = container_service.GenerateID("some-handle")
		})

		It("returns an active container with the handle and its id", func() {
			container, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())

			Expect(container.Handle()).To(Equal("some-handle"))
			Expect(container.ID()).To(Equal(id))
			Expect(container.State()).To(Equal(ironframe.StateActive))
		})

		It("creates the container user in the group", func() {
			_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())

			Expect(env.userManager.HasUser("c_" + id)).To(BeTrue())
			Expect(env.userManager.Groups["IronFrameUsers"]).To(ContainElement("c_" + id))
		})

		It("creates the container directory and records the handle in it", func() {
			_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())

			Expect(filepath.Join(env.basePath, id, "user")).To(BeADirectory())
			Expect(filepath.Join(env.basePath, id, "bin")).To(BeADirectory())

			contents, err := os.ReadFile(filepath.Join(env.basePath, id, "private", container_service.HandleFileName))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(contents)).To(Equal("some-handle"))
		})

		It("starts a host as the container user in the container's job object", func() {
			_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())

			started := env.hostService.Started()
			Expect(started).To(HaveLen(1))
			Expect(started[0].ID).To(Equal(id))
			Expect(started[0].Job).To(BeIdenticalTo(env.job(id)))
			Expect(started[0].Credentials.UserName).To(Equal("c_" + id))
			Expect(started[0].Credentials.Password).ToNot(BeEmpty())
		})

		It("stores the properties", func() {
			container, err := service.CreateContainer(ironframe.ContainerSpec{
				Handle:     "some-handle",
				Properties: ironframe.Properties{"a": "b"},
			})
			Expect(err).ToNot(HaveOccurred())

			properties, err := container.GetProperties()
			Expect(err).ToNot(HaveOccurred())
			Expect(properties).To(Equal(ironframe.Properties{"a": "b"}))
		})

		It("generates a handle when none is given", func() {
			container, err := service.CreateContainer(ironframe.ContainerSpec{})
			Expect(err).ToNot(HaveOccurred())

			Expect(container.Handle()).To(HaveLen(11))
			Expect(container.ID()).To(Equal(container_service.GenerateID(container.Handle())))
		})

		It("rejects a handle that is already in use, ignoring case", func() {
			_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.CreateContainer(ironframe.ContainerSpec{Handle: "SOME-HANDLE"})
			Expect(errors.Is(err, ironframe.ErrInvalidArgument)).To(BeTrue())
			Expect(service.GetContainers()).To(HaveLen(1))
		})

		Context("when a create for the same handle is still in progress", func() {
			var (
				creating chan struct{}
				proceed  chan struct{}
			)

			BeforeEach(func() {
				creating = make(chan struct{})
				proceed = make(chan struct{})

				var once sync.Once
				env.whenCreatingJob = func(string) {
					once.Do(func() { close(creating) })
					<-proceed
				}
			})

			It("rejects the second create and keeps the first", func() {
				firstErr := make(chan error, 1)
				go func() {
					defer GinkgoRecover()

					_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
					firstErr <- err
				}()

				Eventually(creating).Should(BeClosed())

				_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "Some-Handle"})
				Expect(errors.Is(err, ironframe.ErrInvalidArgument)).To(BeTrue())

				close(proceed)

				Eventually(firstErr).Should(Receive(BeNil()))
				Expect(service.GetContainerHandles()).To(ConsistOf("some-handle"))
				Expect(env.userManager.DeletedUsers()).To(BeEmpty())
			})
		})

		It("lets exactly one of many concurrent creates claim a handle", func() {
			const creates = 8

			var wg sync.WaitGroup
			results := make(chan error, creates)

			for i := 0; i < creates; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
					results <- err
				}()
			}

			wg.Wait()
			close(results)

			succeeded := 0
			for err := range results {
				if err == nil {
					succeeded++
					continue
				}

				Expect(errors.Is(err, ironframe.ErrInvalidArgument)).To(BeTrue())
			}

			Expect(succeeded).To(Equal(1))
			Expect(service.GetContainers()).To(HaveLen(1))
		})

		It("frees the handle when the create fails", func() {
			env.jobError = errors.New("no more job objects")

			_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).To(MatchError(ContainSubstring("no more job objects")))

			env.jobError = nil

			_, err = service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())
		})

		Context("when the user cannot be created", func() {
			BeforeEach(func() {
				env.userManager.CreateUserError = errors.New("no more users")
			})

			It("returns the error and creates nothing else", func() {
				_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
				Expect(err).To(MatchError("no more users"))

				Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
				Expect(env.hostService.Started()).To(BeEmpty())
			})
		})

		Context("when the directory cannot be created", func() {
			JustBeforeEach(func() {
				env.acl.ApplyAccessError = errors.New("acl denied")
			})

			It("deletes the user it created", func() {
				_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
				Expect(err).To(MatchError(ContainSubstring("acl denied")))

				Expect(env.userManager.DeletedUsers()).To(ConsistOf("c_" + id))
				Expect(env.userManager.HasUser("c_" + id)).To(BeFalse())
				Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
				Expect(service.GetContainers()).To(BeEmpty())
			})

			Context("and the user cannot be deleted either", func() {
				JustBeforeEach(func() {
					env.userManager.DeleteUserError = errors.New("user is busy")
				})

				It("returns both failures", func() {
					_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
					Expect(err).To(MatchError(ContainSubstring("acl denied")))
					Expect(err).To(MatchError(ContainSubstring("user is busy")))
				})
			})
		})

		Context("when the job object cannot be created", func() {
			BeforeEach(func() {
				env.jobError = errors.New("no job for you")
			})

			It("removes the directory and the user", func() {
				_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
				Expect(err).To(MatchError(ContainSubstring("no job for you")))

				Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
				Expect(env.userManager.DeletedUsers()).To(ConsistOf("c_" + id))
			})
		})

		Context("when the host fails to start", func() {
			BeforeEach(func() {
				env.hostService.StartError = errors.New("host crashed")
			})

			It("unwinds everything created before it", func() {
				_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
				Expect(err).To(MatchError(ContainSubstring("host crashed")))

				Expect(env.job(id).IsClosed()).To(BeTrue())
				Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
				Expect(env.userManager.DeletedUsers()).To(ConsistOf("c_" + id))
				Expect(service.GetContainerByHandle("some-handle")).To(BeNil())
			})
		})

		Context("when the service is closed", func() {
			It("is unavailable", func() {
				Expect(service.Close()).To(Succeed())

				_, err := service.CreateContainer(ironframe.ContainerSpec{})

				var unavailable ironframe.ServiceUnavailableError
				Expect(errors.As(err, &unavailable)).To(BeTrue())
			})
		})
	})

	Describe("looking up containers", func() {
		JustBeforeEach(func() {
			for _, handle := range []string{"first", "Second", "third"} {
				_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: handle})
				Expect(err).ToNot(HaveOccurred())
			}
		})

		It("finds a container by handle ignoring case", func() {
			container := service.GetContainerByHandle("SECOND")
			Expect(container).ToNot(BeNil())
			Expect(container.Handle()).To(Equal("Second"))
		})

		It("returns nil for an unknown handle", func() {
			Expect(service.GetContainerByHandle("fourth")).To(BeNil())
		})

		It("lists the containers in creation order", func() {
			Expect(service.GetContainerHandles()).To(Equal([]string{"first", "Second", "third"}))
			Expect(service.GetContainers()).To(HaveLen(3))
		})
	})

	Describe("DestroyContainer", func() {
		var (
			id     string
			client *fake_container_host.FakeClient
		)

		BeforeEach(func() {
			id = container_service.GenerateID("some-handle")

			client = fake_container_host.New()
			env.hostService.Client = client
		})

		JustBeforeEach(func() {
			_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())
		})

		It("releases everything the container held", func() {
			Expect(service.DestroyContainer("some-handle")).To(Succeed())

			Expect(client.ShutdownCalls()).To(BeNumerically(">", 0))
			Expect(env.job(id).IsClosed()).To(BeTrue())
			Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
			Expect(env.userManager.HasUser("c_" + id)).To(BeFalse())
		})

		It("forgets the container", func() {
			Expect(service.DestroyContainer("SOME-HANDLE")).To(Succeed())

			Expect(service.GetContainerByHandle("some-handle")).To(BeNil())
			Expect(service.GetContainerHandles()).To(BeEmpty())
		})

		It("returns ContainerNotFoundError for an unknown handle", func() {
			err := service.DestroyContainer("bogus")

			var notFound ironframe.ContainerNotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Handle).To(Equal("bogus"))
		})

		Context("when the user cannot be deleted", func() {
			BeforeEach(func() {
				env.userManager.DeleteUserError = errors.New("user is busy")
			})

			It("still releases the rest and succeeds", func() {
				Expect(service.DestroyContainer("some-handle")).To(Succeed())

				Expect(env.job(id).IsClosed()).To(BeTrue())
				Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
				Expect(service.GetContainerByHandle("some-handle")).To(BeNil())
			})
		})
	})

	Describe("RestoreFromContainerBasePath", func() {
		var (
			id       string
			restored *container_service.ContainerService
		)

		BeforeEach(func() {
			id = container_service.GenerateID("some-handle")
		})

		JustBeforeEach(func() {
			_, err := service.CreateContainer(ironframe.ContainerSpec{
				Handle:     "some-handle",
				Properties: ironframe.Properties{"a": "b"},
			})
			Expect(err).ToNot(HaveOccurred())

			restored = env.newService()
		})

		AfterEach(func() {
			restored.Close()
		})

		It("restores each container with its handle and id", func() {
			Expect(restored.RestoreFromContainerBasePath()).To(Succeed())

			container := restored.GetContainerByHandle("some-handle")
			Expect(container).ToNot(BeNil())
			Expect(container.ID()).To(Equal(id))
			Expect(container.State()).To(Equal(ironframe.StateActive))
		})

		It("keeps the container's properties", func() {
			Expect(restored.RestoreFromContainerBasePath()).To(Succeed())

			value, err := restored.GetContainerByHandle("some-handle").GetProperty("a")
			Expect(err).ToNot(HaveOccurred())
			Expect(value).ToNot(BeNil())
			Expect(*value).To(Equal("b"))
		})

		It("runs every process without a host", func() {
			Expect(restored.RestoreFromContainerBasePath()).To(Succeed())

			_, err := restored.GetContainerByHandle("some-handle").Run(ironframe.ProcessSpec{
				ExecutablePath: "app.exe",
			}, ironframe.ProcessIO{})
			Expect(err).ToNot(HaveOccurred())

			Expect(env.hostService.Started()).To(HaveLen(1))
			Expect(env.lastRunner().RanSpecs()).To(HaveLen(1))
			Expect(env.job(id).Assigned).To(HaveLen(1))
		})

		It("never finds a process, having no host", func() {
			Expect(restored.RestoreFromContainerBasePath()).To(Succeed())

			container := restored.GetContainerByHandle("some-handle")
			process, err := container.Run(ironframe.ProcessSpec{ExecutablePath: "app.exe"}, ironframe.ProcessIO{})
			Expect(err).ToNot(HaveOccurred())

			_, err = container.FindProcessById(process.ID())
			Expect(err).To(Equal(ironframe.ProcessNotFoundError{ProcessID: strconv.Itoa(process.ID())}))
		})

		It("can destroy a restored container", func() {
			Expect(restored.RestoreFromContainerBasePath()).To(Succeed())

			Expect(restored.DestroyContainer("some-handle")).To(Succeed())
			Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
			Expect(env.userManager.HasUser("c_" + id)).To(BeFalse())
		})

		Context("when the handle file is missing", func() {
			JustBeforeEach(func() {
				Expect(os.Remove(filepath.Join(env.basePath, id, "private", container_service.HandleFileName))).To(Succeed())
			})

			It("uses the id as the handle", func() {
				Expect(restored.RestoreFromContainerBasePath()).To(Succeed())

				Expect(restored.GetContainerByHandle(id)).ToNot(BeNil())
			})
		})

		Context("when a job object cannot be opened", func() {
			JustBeforeEach(func() {
				env.jobError = errors.New("no job for you")
			})

			It("skips the container and returns the error", func() {
				err := restored.RestoreFromContainerBasePath()
				Expect(err).To(MatchError(ContainSubstring("no job for you")))

				Expect(restored.GetContainers()).To(BeEmpty())
			})
		})
	})

	Describe("Close", func() {
		var id string

		BeforeEach(func() {
			id = container_service.GenerateID("some-handle")
		})

		JustBeforeEach(func() {
			_, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "some-handle"})
			Expect(err).ToNot(HaveOccurred())
		})

		It("releases the containers but leaves them on disk", func() {
			Expect(service.Close()).To(Succeed())

			Expect(env.job(id).IsClosed()).To(BeTrue())
			Expect(filepath.Join(env.basePath, id)).To(BeADirectory())
			Expect(env.userManager.HasUser("c_" + id)).To(BeTrue())
		})

		It("is idempotent", func() {
			Expect(service.Close()).To(Succeed())
			Expect(service.Close()).To(Succeed())
		})
	})

	Describe("running a privileged process end to end", func() {
		BeforeEach(func() {
			env.newRunner = func(logger lager.Logger) process_runner.ProcessRunner {
				return process_runner.New(command_runner.New(), clock.NewClock(), logger)
			}
		})

		It("runs it, captures its output and cleans up on destroy", func() {
			container, err := service.CreateContainer(ironframe.ContainerSpec{Handle: "h1"})
			Expect(err).ToNot(HaveOccurred())

			path, args := echoCommand("hello")

			stdout := gbytes.NewBuffer()
			process, err := container.Run(ironframe.ProcessSpec{
				ExecutablePath:     path,
				Arguments:          args,
				Privileged:         true,
				DisablePathMapping: true,
			}, ironframe.ProcessIO{Stdout: stdout})
			Expect(err).ToNot(HaveOccurred())

			exitCode, err := process.WaitForExit()
			Expect(err).ToNot(HaveOccurred())
			Expect(exitCode).To(Equal(0))

			Eventually(stdout).Should(gbytes.Say("hello"))

			id := container.ID()
			Expect(env.job(id).Assigned).To(ContainElement(process.ID()))

			Expect(service.DestroyContainer("h1")).To(Succeed())
			Expect(service.GetContainerByHandle("h1")).To(BeNil())
			Expect(filepath.Join(env.basePath, id)).ToNot(BeADirectory())
		})
	})
})

func echoCommand(message string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd.exe", []string{"/C", "echo " + message}
	}

	return "/bin/sh", []string{"-c", "echo " + message}
}
