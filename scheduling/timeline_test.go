package scheduling

import (
	"errors"
	"math/rand"
	"time"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

type stepElement struct {
	ElementBase
	name   string
	run    func(tl *Timeline) (Result, error)
	resume func(tl *Timeline, value any) (Result, error)
}

func (e *stepElement) Name() string {
	return e.name
}

func (e *stepElement) Run(tl *Timeline) (Result, error) {
	if e.run == nil {
		return Done(nil), nil
	}

	return e.run(tl)
}

func (e *stepElement) Resume(tl *Timeline, value any) (Result, error) {
	if e.resume == nil {
		return Done(value), nil
	}

	return e.resume(tl, value)
}

type softWaiter struct {
	stepElement
}

func (e *softWaiter) WakeOnSoftStop() bool {
	return true
}

func recordRun(name string, log *[]string) *stepElement {
	return &stepElement{
		name: name,
		run: func(tl *Timeline) (Result, error) {
			*log = append(*log, name)
			return Done(nil), nil
		},
	}
}

type fakeWallClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeWallClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

var _ = ginkgo.Describe("Timeline", func() {
	var (
		mockCtrl *gomock.Controller
		tl       *Timeline
		reported []*ElementError
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		tl = NewTimeline("sim", 0)
		reported = nil
		tl.SetExceptionReporter(func(_ *Timeline, err *ElementError) {
			reported = append(reported, err)
		})
	})

	ginkgo.AfterEach(func() {
		mockCtrl.Finish()
	})

	ginkgo.Context("ordering", func() {
		ginkgo.It("should run entries by time, then by insertion order", func() {
			var log []string

			_, err := tl.Schedule(recordRun("A", &log), 5)
			Expect(err).NotTo(HaveOccurred())
			_, err = tl.Schedule(recordRun("B", &log), 5)
			Expect(err).NotTo(HaveOccurred())
			_, err = tl.Schedule(recordRun("C", &log), 3)
			Expect(err).NotTo(HaveOccurred())

			Expect(tl.Simulate(10)).To(BeTrue())
			Expect(log).To(Equal([]string{"C", "A", "B"}))
			Expect(tl.Now()).To(Equal(Time(10)))

			Expect(tl.Simulate(10)).To(BeTrue())
			Expect(log).To(HaveLen(3))
		})

		ginkgo.It("should keep random schedules in non-decreasing order", func() {
			r := rand.New(rand.NewSource(1))
			var fired []Time

			for i := 0; i < 200; i++ {
				at := Time(r.Intn(100))
				e := &stepElement{run: func(tl *Timeline) (Result, error) {
					fired = append(fired, tl.Now())
					return Done(nil), nil
				}}
				_, err := tl.Schedule(e, at)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(tl.Simulate(50)).To(BeTrue())

			for i := 1; i < len(fired); i++ {
				Expect(fired[i]).To(BeNumerically(">=", fired[i-1]))
			}
			Expect(tl.NextTime()).To(BeNumerically(">", 50))
		})

		ginkgo.It("should run work scheduled during the drain if it is due", func() {
			var log []string

			first := &stepElement{
				name: "first",
				run: func(tl *Timeline) (Result, error) {
					log = append(log, "first")
					_, _ = tl.Schedule(recordRun("due", &log), 8)
					_, _ = tl.Schedule(recordRun("late", &log), 12)
					return Done(nil), nil
				},
			}
			_, _ = tl.Schedule(first, 2)

			Expect(tl.Simulate(10)).To(BeTrue())
			Expect(log).To(Equal([]string{"first", "due"}))
			Expect(tl.Len()).To(Equal(1))
			Expect(tl.NextTime()).To(Equal(Time(12)))
		})

		ginkgo.It("should list pending entries in firing order", func() {
			_, _ = tl.Schedule(&stepElement{name: "x"}, 7)
			_, _ = tl.Schedule(&stepElement{name: "y"}, 3)
			_, _ = tl.Schedule(&stepElement{name: "z"}, 7)

			pending := tl.Pending()

			Expect(pending).To(HaveLen(3))
			Expect(pending[0].Element).To(Equal("y"))
			Expect(pending[1].Element).To(Equal("x"))
			Expect(pending[2].Element).To(Equal("z"))
		})

		ginkgo.It("should look up live handles by ID", func() {
			h, _ := tl.Schedule(&stepElement{name: "x"}, 2)

			Expect(tl.Lookup(h.ID())).To(BeIdenticalTo(h))
			Expect(tl.Lookup("nope")).To(BeNil())

			tl.Simulate(2)
			Expect(tl.Lookup(h.ID())).To(BeNil())
		})
	})

	ginkgo.Context("scheduling into the past", func() {
		ginkgo.It("should return an InvalidScheduleError", func() {
			tl.Simulate(10)

			h, err := tl.Schedule(&stepElement{}, 9)

			Expect(h).To(BeNil())
			var schedErr *InvalidScheduleError
			Expect(errors.As(err, &schedErr)).To(BeTrue())
			Expect(schedErr.Now).To(Equal(Time(10)))
		})

		ginkgo.It("should reject negative delays", func() {
			_, err := tl.ScheduleAfter(&stepElement{}, -1)
			Expect(err).To(HaveOccurred())
		})
	})

	ginkgo.Context("time advancement", func() {
		ginkgo.It("should call time-advanced callbacks once per advance", func() {
			var advances [][2]Time
			tl.AddTimeAdvancedCallback(func(prev, now Time) {
				advances = append(advances, [2]Time{prev, now})
			})

			_, _ = tl.Schedule(&stepElement{}, 4)
			_, _ = tl.Schedule(&stepElement{}, 4)
			_, _ = tl.Schedule(&stepElement{}, 6)

			tl.Simulate(10)

			Expect(advances).To(Equal([][2]Time{{0, 4}, {4, 6}, {6, 10}}))
		})

		ginkgo.It("should invoke the time-advanced hook", func() {
			hook := NewMockHook(mockCtrl)
			tl.AcceptHook(hook)

			hook.EXPECT().Func(HookCtx{
				Domain: tl,
				Pos:    HookPosTimeAdvanced,
				Item:   Time(3),
				Detail: Time(0),
			})

			tl.Simulate(3)
		})

		ginkgo.It("should not move now backwards", func() {
			tl.Simulate(10)
			tl.Simulate(5)

			Expect(tl.Now()).To(Equal(Time(10)))
		})
	})

	ginkgo.Context("time slicing", func() {
		var clock *fakeWallClock

		ginkgo.BeforeEach(func() {
			clock = &fakeWallClock{now: time.Unix(0, 0), step: time.Millisecond}
			tl.SetWallClock(clock.Now)
		})

		ginkgo.It("should process one entry with a zero budget", func() {
			var log []string
			_, _ = tl.Schedule(recordRun("a", &log), 1)
			_, _ = tl.Schedule(recordRun("b", &log), 2)
			_, _ = tl.Schedule(recordRun("c", &log), 3)

			Expect(tl.SimulateWithBudget(10, 0)).To(BeFalse())
			Expect(log).To(Equal([]string{"a"}))
			Expect(tl.Now()).To(Equal(Time(1)))

			Expect(tl.SimulateWithBudget(10, 0)).To(BeFalse())
			Expect(log).To(Equal([]string{"a", "b"}))
			Expect(tl.Now()).To(Equal(Time(2)))

			Expect(tl.SimulateWithBudget(10, 0)).To(BeTrue())
			Expect(log).To(Equal([]string{"a", "b", "c"}))
			Expect(tl.Now()).To(Equal(Time(10)))
		})

		ginkgo.It("should report success when the last due entry ends the budget", func() {
			var log []string
			_, _ = tl.Schedule(recordRun("a", &log), 1)
			_, _ = tl.Schedule(recordRun("future", &log), 20)

			Expect(tl.SimulateWithBudget(10, 0)).To(BeTrue())
			Expect(log).To(Equal([]string{"a"}))
			Expect(tl.Now()).To(Equal(Time(10)))
		})

		ginkgo.It("should catch up when the budget is large enough", func() {
			var log []string
			for i := 0; i < 5; i++ {
				_, _ = tl.Schedule(recordRun("e", &log), Time(i))
			}

			Expect(tl.SimulateWithBudget(10, time.Second)).To(BeTrue())
			Expect(log).To(HaveLen(5))
		})
	})

	ginkgo.Context("cancellation", func() {
		ginkgo.It("should remove an entry that has not started", func() {
			var log []string
			a, _ := tl.Schedule(recordRun("a", &log), 5)
			_, _ = tl.Schedule(recordRun("b", &log), 5)

			tl.Cancel(a)
			tl.Cancel(a)
			tl.Simulate(10)

			Expect(log).To(Equal([]string{"b"}))
			Expect(a.Done()).To(BeTrue())
			Expect(a.Outcome().Reason).To(Equal(FinishCanceled))
		})

		ginkgo.It("should tear down but not stop an element that never ran", func() {
			elem := NewMockElement(mockCtrl)
			elem.EXPECT().Teardown()

			h, _ := tl.Schedule(elem, 5)
			tl.Cancel(h)

			Expect(tl.Len()).To(Equal(0))
			Expect(tl.NumLive()).To(Equal(0))
		})

		ginkgo.It("should ignore cancelling a finished handle", func() {
			h, _ := tl.Schedule(&stepElement{}, 1)
			tl.Simulate(2)

			Expect(func() { tl.Cancel(h) }).NotTo(Panic())
			Expect(h.Outcome().Reason).To(Equal(FinishCompleted))
		})

		ginkgo.It("should hard-stop a suspended handle", func() {
			elem := NewMockElement(mockCtrl)
			elem.EXPECT().Run(tl).Return(SuspendFor(10), nil)
			gomock.InOrder(
				elem.EXPECT().RequestHardStop(),
				elem.EXPECT().Teardown(),
			)

			h, _ := tl.Schedule(elem, 0)
			tl.Simulate(1)
			tl.Cancel(h)

			Expect(h.Outcome().Reason).To(Equal(FinishCanceled))
			Expect(tl.Len()).To(Equal(0))
		})
	})

	ginkgo.Context("parent and child", func() {
		ginkgo.It("should resume the parent with the child's result", func() {
			child := &stepElement{
				run: func(*Timeline) (Result, error) {
					return SuspendFor(3), nil
				},
				resume: func(*Timeline, any) (Result, error) {
					return Done(42), nil
				},
			}

			var got any
			parent := &stepElement{
				run: func(*Timeline) (Result, error) {
					return Delegate(child), nil
				},
				resume: func(tl *Timeline, value any) (Result, error) {
					got = value
					return Done("parent done"), nil
				},
			}

			h, _ := tl.Schedule(parent, 1)

			tl.Simulate(2)
			Expect(h.Depth()).To(Equal(2))
			Expect(h.Active()).To(BeIdenticalTo(child))
			Expect(h.When()).To(Equal(Time(4)))

			tl.Simulate(4)
			Expect(got).To(Equal(42))
			Expect(h.Done()).To(BeTrue())
			Expect(h.Outcome().Value).To(Equal("parent done"))
			Expect(child.TornDown()).To(BeTrue())
			Expect(parent.TornDown()).To(BeTrue())
		})

		ginkgo.It("should stop and tear down the child before the parent", func() {
			parent := NewMockElement(mockCtrl)
			child := NewMockElement(mockCtrl)

			parent.EXPECT().Run(tl).Return(Delegate(child), nil)
			child.EXPECT().Run(tl).Return(SuspendFor(10), nil)
			gomock.InOrder(
				child.EXPECT().RequestHardStop(),
				child.EXPECT().Teardown(),
				parent.EXPECT().RequestHardStop(),
				parent.EXPECT().Teardown(),
			)

			h, _ := tl.Schedule(parent, 0)
			tl.Simulate(0)
			tl.HardStop(h)
			tl.HardStop(h)

			Expect(h.Outcome().Reason).To(Equal(FinishHardStopped))
			Expect(tl.Len()).To(Equal(0))
		})

		ginkgo.It("should ignore a hard stop issued from a teardown", func() {
			var h *Handle
			var order []string
			child := &stepElement{
				run: func(*Timeline) (Result, error) {
					return SuspendFor(10), nil
				},
			}
			child.OnTeardown(func() {
				order = append(order, "child")
				tl.HardStop(h)
			})
			parent := &stepElement{
				run: func(*Timeline) (Result, error) {
					return Delegate(child), nil
				},
			}
			parent.OnTeardown(func() { order = append(order, "parent") })

			h, _ = tl.Schedule(parent, 0)
			var seen []FinishReason
			h.OnFinish(func(o Outcome) { seen = append(seen, o.Reason) })
			tl.Simulate(0)

			tl.Cancel(h)

			Expect(order).To(Equal([]string{"child", "parent"}))
			Expect(seen).To(Equal([]FinishReason{FinishCanceled}))
			Expect(h.Outcome().Reason).To(Equal(FinishCanceled))
			Expect(tl.NumLive()).To(Equal(0))
		})

		ginkgo.It("should finish the chain when the element stops itself", func() {
			var h *Handle
			elem := &stepElement{
				run: func(tl *Timeline) (Result, error) {
					tl.HardStop(h)
					return SuspendFor(5), nil
				},
			}

			h, _ = tl.Schedule(elem, 0)
			tl.Simulate(1)

			Expect(h.Done()).To(BeTrue())
			Expect(h.Outcome().Reason).To(Equal(FinishHardStopped))
			Expect(elem.HardStopRequested()).To(BeTrue())
			Expect(tl.Len()).To(Equal(0))
		})
	})

	ginkgo.Context("failures", func() {
		ginkgo.It("should report an error and continue with the next entry", func() {
			var log []string
			boom := errors.New("boom")
			bad := &stepElement{
				name: "bad",
				run: func(*Timeline) (Result, error) {
					return Result{}, boom
				},
			}

			h, _ := tl.Schedule(bad, 1)
			_, _ = tl.Schedule(recordRun("good", &log), 1)

			Expect(tl.Simulate(5)).To(BeTrue())

			Expect(log).To(Equal([]string{"good"}))
			Expect(reported).To(HaveLen(1))
			Expect(reported[0].Timeline).To(Equal("sim"))
			Expect(reported[0].Element).To(BeIdenticalTo(bad))
			Expect(errors.Is(reported[0], boom)).To(BeTrue())
			Expect(h.Outcome().Reason).To(Equal(FinishFailed))
			Expect(bad.TornDown()).To(BeTrue())
		})

		ginkgo.It("should recover from a panic in Resume", func() {
			child := &stepElement{}
			parent := &stepElement{
				run: func(*Timeline) (Result, error) {
					return Delegate(child), nil
				},
				resume: func(*Timeline, any) (Result, error) {
					panic("resume exploded")
				},
			}

			h, _ := tl.Schedule(parent, 0)
			tl.Simulate(0)

			Expect(reported).To(HaveLen(1))
			Expect(reported[0].Phase).To(Equal("resume"))
			Expect(reported[0].Error()).To(ContainSubstring("resume exploded"))
			Expect(h.Outcome().Reason).To(Equal(FinishFailed))
			Expect(parent.TornDown()).To(BeTrue())
		})
	})

	ginkgo.Context("wake", func() {
		ginkgo.It("should resume a waiting handle with the value", func() {
			var got any
			elem := &stepElement{
				run: func(*Timeline) (Result, error) {
					return Suspend(), nil
				},
				resume: func(_ *Timeline, value any) (Result, error) {
					got = value
					return Done(nil), nil
				},
			}

			h, _ := tl.Schedule(elem, 0)
			tl.Simulate(5)
			Expect(h.WaitingForWake()).To(BeTrue())
			Expect(tl.Len()).To(Equal(0))
			Expect(tl.NumLive()).To(Equal(1))

			Expect(tl.Wake(h, "ping")).To(Succeed())
			Expect(tl.Wake(h, "again")).To(MatchError(ErrNotSuspended))

			tl.Simulate(5)
			Expect(got).To(Equal("ping"))
			Expect(h.Done()).To(BeTrue())
		})

		ginkgo.It("should refuse to wake a handle on a timer", func() {
			elem := &stepElement{
				run: func(*Timeline) (Result, error) {
					return SuspendFor(3), nil
				},
			}

			h, _ := tl.Schedule(elem, 0)
			tl.Simulate(0)

			Expect(tl.Wake(h, nil)).To(MatchError(ErrNotSuspended))
		})
	})

	ginkgo.Context("soft stop", func() {
		ginkgo.It("should forward the request along the chain", func() {
			child := &stepElement{
				run: func(*Timeline) (Result, error) {
					return SuspendFor(10), nil
				},
			}
			parent := &stepElement{
				run: func(*Timeline) (Result, error) {
					return Delegate(child), nil
				},
			}

			h, _ := tl.Schedule(parent, 0)
			tl.Simulate(0)
			tl.SoftStop(h)
			tl.SoftStop(h)

			Expect(child.SoftStopRequested()).To(BeTrue())
			Expect(parent.SoftStopRequested()).To(BeTrue())
			Expect(h.When()).To(Equal(Time(10)))
		})

		ginkgo.It("should wake soft-interruptible elements early", func() {
			waiter := &softWaiter{}
			waiter.run = func(*Timeline) (Result, error) {
				return SuspendFor(100), nil
			}

			var resumedAt Time
			waiter.resume = func(tl *Timeline, _ any) (Result, error) {
				resumedAt = tl.Now()
				return Done(nil), nil
			}

			h, _ := tl.Schedule(waiter, 0)
			tl.Simulate(5)
			tl.SoftStop(h)

			Expect(h.When()).To(Equal(Time(5)))

			tl.Simulate(5)
			Expect(resumedAt).To(Equal(Time(5)))
			Expect(h.Outcome().Reason).To(Equal(FinishCompleted))
		})

		ginkgo.It("should pass the request to children created later", func() {
			child := &stepElement{}
			parent := &stepElement{
				run: func(*Timeline) (Result, error) {
					return Delegate(child), nil
				},
			}

			h, _ := tl.Schedule(parent, 3)
			tl.SoftStop(h)
			tl.Simulate(3)

			Expect(child.SoftStopRequested()).To(BeTrue())
		})
	})

	ginkgo.Context("teardown", func() {
		ginkgo.It("should hard-stop every live handle in scheduling order", func() {
			var order []string
			newElem := func(name string, res Result) *stepElement {
				e := &stepElement{
					name: name,
					run:  func(*Timeline) (Result, error) { return res, nil },
				}
				e.OnTeardown(func() { order = append(order, name) })
				return e
			}

			_, _ = tl.Schedule(newElem("a", Suspend()), 0)
			_, _ = tl.Schedule(newElem("b", SuspendFor(5)), 0)
			_, _ = tl.Schedule(newElem("c", Done(nil)), 50)
			tl.Simulate(1)

			tl.Teardown()

			Expect(order).To(Equal([]string{"a", "b", "c"}))
			Expect(tl.Len()).To(Equal(0))
			Expect(tl.NumLive()).To(Equal(0))

			_, err := tl.Schedule(&stepElement{}, 60)
			Expect(err).To(MatchError(ErrTimelineTornDown))
		})
	})

	ginkgo.Context("registrations", func() {
		ginkgo.It("should release held registrations on teardown", func() {
			released := 0
			elem := &stepElement{}
			elem.Hold(NewRegistration(func() { released++ }))

			h, _ := tl.Schedule(elem, 0)
			tl.Simulate(0)
			elem.Teardown()

			Expect(h.Done()).To(BeTrue())
			Expect(released).To(Equal(1))
		})

		ginkgo.It("should panic on double release", func() {
			r := NewRegistration(nil)
			r.Release()

			Expect(r.Release).To(PanicWith(ErrDoubleRelease))
		})
	})

	ginkgo.Context("hooks", func() {
		ginkgo.It("should report element start and end", func() {
			hook := NewMockHook(mockCtrl)
			tl.AcceptHook(hook)

			var positions []*HookPos
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
				positions = append(positions, ctx.Pos)
			}).AnyTimes()

			_, _ = tl.Schedule(&stepElement{}, 0)
			tl.Simulate(0)

			Expect(positions).To(Equal([]*HookPos{
				HookPosBeforeEntry,
				HookPosElementStart,
				HookPosElementEnd,
				HookPosAfterEntry,
			}))
		})

		ginkgo.It("should refuse a hook attached twice", func() {
			hook := NewMockHook(mockCtrl)
			tl.AcceptHook(hook)

			Expect(func() { tl.AcceptHook(hook) }).To(Panic())
		})
	})
})

var _ = ginkgo.Describe("Owner", func() {
	var (
		tl    *Timeline
		owner *Owner
	)

	ginkgo.BeforeEach(func() {
		tl = NewTimeline("sim", 0)
		owner = NewOwner("npc")
	})

	ginkgo.It("should forget handles once they finish", func() {
		_, err := owner.Schedule(tl, &stepElement{}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(owner.Len()).To(Equal(1))

		tl.Simulate(2)

		Expect(owner.Len()).To(Equal(0))
	})

	ginkgo.It("should hard-stop everything on reset", func() {
		a, _ := owner.Schedule(tl, &stepElement{
			run: func(*Timeline) (Result, error) { return Suspend(), nil },
		}, 0)
		b, _ := owner.Schedule(tl, &stepElement{}, 10)
		tl.Simulate(1)

		owner.Reset()

		Expect(a.Outcome().Reason).To(Equal(FinishHardStopped))
		Expect(b.Outcome().Reason).To(Equal(FinishHardStopped))
		Expect(owner.Len()).To(Equal(0))
		Expect(tl.NumLive()).To(Equal(0))
	})
})
