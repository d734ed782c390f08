package elements

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/simlane/timeline/scheduling"
)

var _ = Describe("Elements", func() {
	var (
		tl       *scheduling.Timeline
		reported []*scheduling.ElementError
	)

	BeforeEach(func() {
		tl = scheduling.NewTimeline("sim", 0)
		reported = nil
		tl.SetExceptionReporter(
			func(_ *scheduling.Timeline, err *scheduling.ElementError) {
				reported = append(reported, err)
			})
	})

	Context("Function", func() {
		It("should complete with the function's value", func() {
			h, _ := tl.Schedule(NewFunction("answer",
				func(*scheduling.Timeline) (any, error) { return 42, nil }), 1)

			tl.Simulate(1)

			Expect(h.Outcome().Value).To(Equal(42))
		})

		It("should report the function's error", func() {
			h, _ := tl.Schedule(NewFunction("broken",
				func(*scheduling.Timeline) (any, error) {
					return nil, errors.New("broken")
				}), 1)

			tl.Simulate(1)

			Expect(reported).To(HaveLen(1))
			Expect(scheduling.ElementName(reported[0].Element)).
				To(Equal("broken"))
			Expect(h.Outcome().Reason).To(Equal(scheduling.FinishFailed))
		})
	})

	Context("RunChild", func() {
		It("should complete with the child's result", func() {
			h, _ := tl.Schedule(NewRunChild(NewFunction("c",
				func(*scheduling.Timeline) (any, error) { return "x", nil })), 0)

			tl.Simulate(0)

			Expect(h.Outcome().Value).To(Equal("x"))
		})
	})

	Context("Sequence", func() {
		It("should run children in order across time", func() {
			var log []scheduling.Time
			stamp := func() scheduling.Element {
				return Do("stamp", func(tl *scheduling.Timeline) {
					log = append(log, tl.Now())
				})
			}

			seq := NewSequence(stamp(), NewSleep(5), stamp(), NewSleep(5), stamp())
			h, _ := tl.Schedule(seq, 0)

			tl.Simulate(20)

			Expect(log).To(Equal([]scheduling.Time{0, 5, 10}))
			Expect(h.Outcome().Value).To(HaveLen(5))
		})

		It("should not start more children after a soft stop", func() {
			ran := false
			seq := NewSequence(
				NewSleep(5),
				Do("after", func(*scheduling.Timeline) { ran = true }),
			)
			h, _ := tl.Schedule(seq, 0)

			tl.Simulate(1)
			tl.SoftStop(h)
			tl.Simulate(10)

			Expect(ran).To(BeFalse())
			Expect(h.Outcome().Reason).To(Equal(scheduling.FinishCompleted))
		})
	})

	Context("CriticalSection", func() {
		It("should finish every child despite a soft stop", func() {
			ran := false
			sleep := NewSoftSleep(5)
			cs := NewCriticalSection(
				sleep,
				Do("after", func(*scheduling.Timeline) { ran = true }),
			)
			h, _ := tl.Schedule(cs, 0)

			tl.Simulate(1)
			tl.SoftStop(h)

			Expect(sleep.SoftStopRequested()).To(BeFalse())
			Expect(h.When()).To(Equal(scheduling.Time(5)))

			tl.Simulate(10)

			Expect(ran).To(BeTrue())
		})

		It("should still be hard-stopped", func() {
			finished := 0
			e := BuildCriticalSectionWithFinally(
				func() { finished++ },
				NewSleep(5),
				NewSleep(5),
			)
			h, _ := tl.Schedule(e, 0)

			tl.Simulate(3)
			tl.HardStop(h)

			Expect(finished).To(Equal(1))
			Expect(e.TornDown()).To(BeTrue())
		})
	})

	Context("Repeat", func() {
		It("should repeat a fixed number of times", func() {
			r := NewRepeat(3, func(int) scheduling.Element { return NewSleep(2) })
			h, _ := tl.Schedule(r, 0)

			tl.Simulate(100)

			Expect(h.Outcome().Value).To(Equal(3))
			Expect(r.Iterations()).To(Equal(3))
		})

		It("should repeat until soft-stopped", func() {
			r := NewRepeat(0, func(int) scheduling.Element { return NewSleep(2) })
			h, _ := tl.Schedule(r, 0)

			tl.Simulate(9)
			tl.SoftStop(h)
			tl.Simulate(20)

			Expect(h.Done()).To(BeTrue())
			Expect(r.Iterations()).To(Equal(5))
		})
	})

	Context("SoftSleep", func() {
		It("should report a full sleep", func() {
			h, _ := tl.Schedule(NewSoftSleep(4), 0)

			tl.Simulate(4)

			Expect(h.Outcome().Value).To(Equal(true))
		})

		It("should wake up early on a soft stop", func() {
			h, _ := tl.Schedule(NewSoftSleep(100), 0)

			tl.Simulate(10)
			tl.SoftStop(h)
			tl.Simulate(10)

			Expect(h.Done()).To(BeTrue())
			Expect(h.Outcome().Value).To(Equal(false))
		})
	})

	Context("BusyWait", func() {
		It("should poll until the condition holds", func() {
			w := NewBusyWait(func(tl *scheduling.Timeline) bool {
				return tl.Now() >= 7
			}, 3)
			h, _ := tl.Schedule(w, 0)

			tl.Simulate(20)

			Expect(h.Outcome().Value).To(Equal(true))
			Expect(w.Polls()).To(Equal(4))
		})

		It("should give up on a soft stop", func() {
			w := NewBusyWait(func(*scheduling.Timeline) bool { return false }, 10)
			h, _ := tl.Schedule(w, 0)

			tl.Simulate(5)
			tl.SoftStop(h)
			tl.Simulate(5)

			Expect(h.Outcome().Value).To(Equal(false))
		})
	})

	Context("Generator", func() {
		It("should carry state across suspensions", func() {
			var seen []any
			g := NewGenerator("walker",
				func(tl *scheduling.Timeline, step int, in any) (scheduling.Result, error) {
					seen = append(seen, in)

					switch step {
					case 0:
						return scheduling.SuspendFor(2), nil
					case 1:
						return scheduling.Delegate(NewFunction("child",
							func(*scheduling.Timeline) (any, error) {
								return "from child", nil
							})), nil
					default:
						return scheduling.Done(tl.Now()), nil
					}
				})
			h, _ := tl.Schedule(g, 0)

			tl.Simulate(10)

			Expect(seen).To(Equal([]any{nil, nil, "from child"}))
			Expect(h.Outcome().Value).To(Equal(scheduling.Time(2)))
			Expect(g.Step()).To(Equal(3))
		})
	})

	Context("WithFinally", func() {
		It("should run finally once on completion", func() {
			count := 0
			e := NewWithFinally(NewSleep(1), func() { count++ })
			_, _ = tl.Schedule(e, 0)

			tl.Simulate(5)

			Expect(count).To(Equal(1))
		})

		It("should run finally when the child fails", func() {
			count := 0
			e := NewWithFinally(NewFunction("bad",
				func(*scheduling.Timeline) (any, error) {
					return nil, errors.New("bad")
				}), func() { count++ })
			_, _ = tl.Schedule(e, 0)

			tl.Simulate(0)

			Expect(count).To(Equal(1))
			Expect(reported).To(HaveLen(1))
		})
	})
})
