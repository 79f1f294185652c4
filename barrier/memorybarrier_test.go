package barrier

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemoryBarrier", func() {
	var (
		ctx context.Context
		b   *MemoryBarrier
	)

	BeforeEach(func() {
		ctx = context.Background()
		b = NewPipelineBarrier("physical", []string{"PLC1", "scada"})
	})

	It("should give the first turn to the driver", func() {
		Expect(b.Wait(ctx, "physical")).To(Succeed())
	})

	It("should wake a waiter on handoff", func() {
		done := make(chan error, 1)
		go func() {
			done <- b.Wait(ctx, "PLC1")
		}()

		Consistently(done).ShouldNot(Receive())

		Expect(b.Handoff(ctx, "physical", "PLC1")).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))
		Expect(b.Flags(ctx)).To(Equal(map[string]bool{"PLC1": false, "scada": true}))
	})

	It("should seed arbitrary flags", func() {
		control := NewMemoryBarrier("", map[string]bool{"scada": true, "agent": false})

		Expect(control.Wait(ctx, "agent")).To(Succeed())
		Expect(control.Handoff(ctx, "agent", "scada")).To(Succeed())
		Expect(control.Flags(ctx)).To(Equal(map[string]bool{"scada": false, "agent": true}))
	})

	It("should reject unknown participants", func() {
		Expect(b.Wait(ctx, "ghost")).To(MatchError(ErrUnknownParticipant))
		Expect(b.Handoff(ctx, "PLC1", "ghost")).To(MatchError(ErrUnknownParticipant))
		Expect(b.Flags(ctx)).To(Equal(map[string]bool{"PLC1": true, "scada": true}))
	})

	It("should stop waiting when cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		Expect(b.Wait(cancelled, "PLC1")).To(MatchError(context.Canceled))
	})

	It("should not leak its flags", func() {
		flags, _ := b.Flags(ctx)
		flags["PLC1"] = false

		Expect(b.Flags(ctx)).To(Equal(map[string]bool{"PLC1": true, "scada": true}))
	})
})
