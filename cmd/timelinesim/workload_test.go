package main

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/simlane/timeline/clock"
	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/simulation"
)

var _ = Describe("Workload", func() {
	var (
		simClock  *clock.SteppedClock
		wallClock *clock.SteppedClock
		s         *simulation.Simulation
		params    workloadParams
	)

	BeforeEach(func() {
		simClock = clock.NewSteppedClock(0)
		wallClock = clock.NewSteppedClock(0)

		var err error
		s, err = simulation.MakeBuilder().
			WithSimClock(simClock).
			WithWallClock(wallClock).
			WithMaxTimeSlice(0).
			WithLogger(zap.NewNop()).
			Build()
		Expect(err).NotTo(HaveOccurred())

		params = workloadParams{
			Agents:      2,
			Rounds:      0,
			Stagger:     10,
			Patrol:      100,
			Delivery:    50,
			ShiftLength: 1000,
			Heartbeat:   500,
		}
	})

	AfterEach(func() {
		s.Terminate()
	})

	step := func(to scheduling.Time) {
		simClock.Set(to)
		wallClock.Set(to)
		s.Tick()
	}

	It("should refuse an empty workload", func() {
		params.Agents = 0

		_, err := installWorkload(s, params, zap.NewNop())

		Expect(err).To(HaveOccurred())
	})

	It("should run a fixed number of rounds", func() {
		params.Rounds = 2
		w, err := installWorkload(s, params, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		step(400)

		Expect(w.Done()).To(BeTrue())
		Expect(w.patrols.Load()).To(Equal(uint64(4)))
		Expect(w.deliveries.Load()).To(Equal(uint64(4)))
		Expect(w.deliveryTime.TotalCount()).To(Equal(uint64(4)))
		Expect(w.deliveryTime.AverageTime()).To(BeNumerically("~", 50))
		Expect(s.GetOwnerByName("agents").Len()).To(Equal(0))
	})

	It("should let deliveries finish when the shift ends", func() {
		params.ShiftLength = 880
		w, err := installWorkload(s, params, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		step(879)
		Expect(w.patrols.Load()).To(Equal(uint64(12)))
		Expect(w.deliveries.Load()).To(Equal(uint64(10)))

		// Both agents are delivering when the shift ends.
		step(890)
		Expect(w.Done()).To(BeFalse())

		step(910)
		Expect(w.Done()).To(BeTrue())
		Expect(w.deliveries.Load()).To(Equal(uint64(12)))
		Expect(w.patrols.Load()).To(Equal(uint64(12)))
	})

	It("should beat on the wall timeline until the agents are gone", func() {
		params.Rounds = 1
		w, err := installWorkload(s, params, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		step(500)
		Expect(w.Done()).To(BeTrue())
		Expect(w.beats.Load()).To(Equal(uint64(1)))
		Expect(w.heartbeat.Canceled()).To(BeTrue())

		step(1500)
		Expect(w.beats.Load()).To(Equal(uint64(1)))
	})

	It("should print the version", func() {
		out := new(bytes.Buffer)
		versionCmd.SetOut(out)

		versionCmd.Run(versionCmd, nil)

		Expect(out.String()).To(Equal("timelinesim dev\n"))
	})
})
