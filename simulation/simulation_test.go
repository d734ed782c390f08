package simulation

import (
	"context"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/simlane/timeline/clock"
	"github.com/simlane/timeline/config"
	"github.com/simlane/timeline/datarecording"
	"github.com/simlane/timeline/elements"
	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/tracing"
)

var _ = Describe("Simulation", func() {
	var (
		simClock   *clock.SteppedClock
		simulation *Simulation
	)

	BeforeEach(func() {
		simClock = clock.NewSteppedClock(0)

		var err error
		simulation, err = MakeBuilder().
			WithoutMonitoring().
			WithSimClock(simClock).
			WithWallClock(clock.NewSteppedClock(0)).
			WithLogger(zap.NewNop()).
			Build()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		simulation.Terminate()
	})

	It("should register an owner", func() {
		o := scheduling.NewOwner("npc")

		simulation.RegisterOwner(o)

		Expect(simulation.GetOwnerByName("npc")).To(BeIdenticalTo(o))
		Expect(simulation.GetOwnerByName("nobody")).To(BeNil())
		Expect(simulation.Owners()).To(ConsistOf(o))
	})

	It("should refuse an owner name twice", func() {
		simulation.RegisterOwner(scheduling.NewOwner("npc"))

		Expect(func() {
			simulation.RegisterOwner(scheduling.NewOwner("npc"))
		}).To(Panic())
	})

	It("should count element runs on the sim timeline", func() {
		_, err := simulation.Service().Sim().Schedule(
			elements.Do("tick", func(*scheduling.Timeline) {}), 5)
		Expect(err).NotTo(HaveOccurred())

		simClock.Set(10)
		report := simulation.Tick()

		Expect(report.SimNow).To(Equal(scheduling.Time(10)))
		Expect(simulation.Counter().Ended("*elements.Function", "completed")).
			To(Equal(uint64(1)))
	})

	It("should stop owned work on terminate", func() {
		o := scheduling.NewOwner("npc")
		simulation.RegisterOwner(o)
		h, err := o.Schedule(simulation.Service().Sim(),
			elements.NewSleep(100), 0)
		Expect(err).NotTo(HaveOccurred())
		simulation.Tick()

		simulation.Terminate()

		Expect(h.Done()).To(BeTrue())
		Expect(h.Outcome().Reason).To(Equal(scheduling.FinishHardStopped))
		Expect(o.Len()).To(Equal(0))
	})

	It("should tick until the context is done", func() {
		ctx, cancel := context.WithTimeout(context.Background(),
			100*time.Millisecond)
		defer cancel()

		Expect(simulation.Run(ctx)).To(Succeed())
		Expect(simulation.Service().Ticks()).To(BeNumerically(">", 0))
	})

	It("should reject a monitor port without monitoring", func() {
		_, err := MakeBuilder().WithMonitorPort(8080).Build()

		Expect(err).To(HaveOccurred())
	})

	It("should take settings from a config", func() {
		cfg := config.Default()
		cfg.SimSpeed = "warp"

		_, err := MakeBuilder().WithConfig(cfg)
		Expect(err).To(HaveOccurred())

		cfg.SimSpeed = "fast"
		cfg.TickInterval = 10 * time.Millisecond
		b, err := MakeBuilder().WithConfig(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.speed).To(Equal(clock.SpeedFast))
		Expect(b.tickInterval).To(Equal(10 * time.Millisecond))
	})

	Context("with recording", func() {
		var (
			recorded *Simulation
			path     string
		)

		BeforeEach(func() {
			simClock = clock.NewSteppedClock(0)
			path = "test_sim_output"

			var err error
			recorded, err = MakeBuilder().
				WithRecording().
				WithOutputFileName(path).
				WithSimClock(simClock).
				WithWallClock(clock.NewSteppedClock(0)).
				WithLogger(zap.NewNop()).
				Build()
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			recorded.Terminate()
			os.Remove(path + ".sqlite3")
		})

		It("should record traces and failures", func() {
			Expect(recorded.GetDataRecorder()).NotTo(BeNil())
			Expect(recorded.GetVisTracer()).NotTo(BeNil())

			sim := recorded.Service().Sim()
			_, err := sim.Schedule(elements.Do("ok", func(*scheduling.Timeline) {}), 1)
			Expect(err).NotTo(HaveOccurred())
			_, err = sim.Schedule(elements.NewFunction("bad",
				func(*scheduling.Timeline) (any, error) {
					return nil, errors.New("boom")
				}), 2)
			Expect(err).NotTo(HaveOccurred())

			simClock.Set(5)
			recorded.Tick()
			recorded.GetDataRecorder().Flush()

			Expect(recorded.GetVisTracer().Written()).To(Equal(2))
			Expect(recorded.GetDataRecorder().ListTables()).To(ContainElements(
				tracing.TraceTableName,
				ExceptionTableName,
				datarecording.ExecTableName,
			))
		})
	})
})
