package admission_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/okian/parley/internal/domain/admission"
	"github.com/okian/parley/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func msg(target string) model.Event {
	return model.Event{Kind: model.KindMessage, Source: model.Prefix{Nick: "alice"}, Target: target}
}

func TestEstimator(t *testing.T) {
	Convey("Given an estimator fed a shuffled uniform stream", t, func() {
		clk := newFakeClock()
		e := admission.NewEstimator(admission.WithEstimatorClock(clk.Now), admission.WithEpsilon(0.01))
		r := rand.New(rand.NewSource(7))
		for _, v := range r.Perm(10000) {
			e.Observe(float64(v + 1))
		}

		Convey("Then quantiles are within the configured rank error", func() {
			snap := e.Snapshot()
			So(snap.Count, ShouldEqual, 10000)
			So(snap.P50, ShouldBeBetweenOrEqual, 4900, 5100)
			So(snap.P90, ShouldBeBetweenOrEqual, 8900, 9100)
			So(snap.P99, ShouldBeBetweenOrEqual, 9800, 10000)
		})

		Convey("Then the same stream gives the same answer twice", func() {
			So(e.Query(admission.P90), ShouldEqual, e.Query(admission.P90))
		})

		Convey("When the whole window passes without samples", func() {
			clk.Advance(2 * time.Minute)

			Convey("Then old samples are forgotten", func() {
				So(e.Count(), ShouldEqual, 0)
				So(e.Query(admission.P90), ShouldEqual, 0)
			})
		})

		Convey("When one age bucket expires", func() {
			clk.Advance(13 * time.Second)
			e.Observe(1)

			Convey("Then the newest samples are still counted", func() {
				So(e.Count(), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}

func TestControllerLevels(t *testing.T) {
	Convey("Given a controller with a warmup of 10 samples", t, func() {
		clk := newFakeClock()
		c := admission.New(
			admission.WithClock(clk.Now),
			admission.WithWarmup(10),
			admission.WithMinGap(0),
			admission.WithBurst(0, time.Second),
			admission.WithLatencyThresholds(100*time.Millisecond, 500*time.Millisecond, 2*time.Second),
		)

		Convey("When fewer samples than the warmup are slow", func() {
			for i := 0; i < 5; i++ {
				c.Observe(admission.SampleLatency, 5*time.Second)
			}

			Convey("Then the level stays normal", func() {
				So(c.Level(), ShouldEqual, admission.LevelNormal)
			})
		})

		Convey("When latency crosses the high threshold", func() {
			for i := 0; i < 100; i++ {
				c.Observe(admission.SampleLatency, 700*time.Millisecond)
			}

			Convey("Then low tiers are dropped, middle tiers deferred, messages admitted", func() {
				So(c.Level(), ShouldEqual, admission.LevelHigh)
				So(c.ShouldAdmit(model.Event{Kind: model.KindTopic, Target: "#a"}), ShouldEqual, admission.Drop)
				So(c.ShouldAdmit(model.Event{Kind: model.KindJoin, Target: "#a"}), ShouldEqual, admission.Defer)
				So(c.ShouldAdmit(msg("#a")), ShouldEqual, admission.Admit)
			})

			Convey("Then a deferred kind rechecked at the same level is dropped", func() {
				So(c.Recheck(model.Event{Kind: model.KindJoin, Target: "#a"}), ShouldEqual, admission.Drop)
			})

			Convey("Then the outbound interval is scaled and capped", func() {
				So(c.OutboundInterval(), ShouldEqual, 1500*time.Millisecond)
			})
		})

		Convey("When only the slowest few percent cross the high threshold", func() {
			for i := 0; i < 92; i++ {
				c.Observe(admission.SampleLatency, time.Millisecond)
			}
			for i := 0; i < 8; i++ {
				c.Observe(admission.SampleLatency, 700*time.Millisecond)
			}

			Convey("Then the default p99 reports high load", func() {
				So(c.Level(), ShouldEqual, admission.LevelHigh)
			})
		})

		Convey("When latency is critical", func() {
			for i := 0; i < 100; i++ {
				c.Observe(admission.SampleLatency, 3*time.Second)
			}

			Convey("Then messages are deferred but not dropped", func() {
				So(c.Level(), ShouldEqual, admission.LevelCritical)
				So(c.ShouldAdmit(msg("#a")), ShouldEqual, admission.Defer)
				So(c.ShouldAdmit(model.Event{Kind: model.KindNick}), ShouldEqual, admission.Drop)
			})
		})

		Convey("When the load is normal", func() {
			Convey("Then every kind is admitted", func() {
				for _, k := range model.AllKinds() {
					So(c.ShouldAdmit(model.Event{Kind: k, Target: "#a"}), ShouldEqual, admission.Admit)
				}
			})
		})
	})

	Convey("Given a controller that compares p90 latency", t, func() {
		c := admission.New(
			admission.WithClock(newFakeClock().Now),
			admission.WithWarmup(10),
			admission.WithMinGap(0),
			admission.WithQuantile(admission.P90),
			admission.WithLatencyThresholds(100*time.Millisecond, 500*time.Millisecond, 2*time.Second),
		)

		Convey("When only the slowest few percent are slow", func() {
			for i := 0; i < 92; i++ {
				c.Observe(admission.SampleLatency, time.Millisecond)
			}
			for i := 0; i < 8; i++ {
				c.Observe(admission.SampleLatency, 700*time.Millisecond)
			}

			Convey("Then the level stays normal", func() {
				So(c.Level(), ShouldEqual, admission.LevelNormal)
			})
		})
	})

	Convey("Given a controller watching arrival gaps", t, func() {
		clk := newFakeClock()
		c := admission.New(
			admission.WithClock(clk.Now),
			admission.WithWarmup(5),
			admission.WithMinGap(40*time.Millisecond),
			admission.WithBurst(0, time.Second),
		)

		Convey("When events arrive slower than the minimum gap", func() {
			for i := 0; i < 20; i++ {
				clk.Advance(100 * time.Millisecond)
				c.ObserveArrival(clk.Now())
			}
			So(c.Level(), ShouldEqual, admission.LevelNormal)
		})

		Convey("When events arrive at a quarter of the minimum gap", func() {
			for i := 0; i < 20; i++ {
				clk.Advance(10 * time.Millisecond)
				c.ObserveArrival(clk.Now())
			}
			So(c.Level(), ShouldEqual, admission.LevelCritical)
		})

		Convey("When events arrive at just under the minimum gap", func() {
			for i := 0; i < 20; i++ {
				clk.Advance(30 * time.Millisecond)
				c.ObserveArrival(clk.Now())
			}
			So(c.Level(), ShouldEqual, admission.LevelElevated)
		})
	})
}

func TestControllerFlood(t *testing.T) {
	Convey("Given 1000 events for one target inside the burst window", t, func() {
		clk := newFakeClock()
		c := admission.New(
			admission.WithClock(clk.Now),
			admission.WithMinGap(0),
			admission.WithBurst(25, 10*time.Second),
		)

		decisions := make([]admission.Decision, 0, 1000)
		for i := 0; i < 1000; i++ {
			clk.Advance(time.Millisecond)
			decisions = append(decisions, c.ShouldAdmit(msg("#flood")))
		}

		Convey("Then only the head is admitted and the tail is dropped", func() {
			for i, d := range decisions {
				if i < 25 {
					So(d, ShouldEqual, admission.Admit)
				} else {
					So(d, ShouldEqual, admission.Drop)
				}
			}
			st := c.Stats()
			So(st.Admitted, ShouldEqual, 25)
			So(st.Dropped, ShouldEqual, 975)
		})

		Convey("Then other targets are unaffected", func() {
			So(c.ShouldAdmit(msg("#quiet")), ShouldEqual, admission.Admit)
		})

		Convey("When the window passes", func() {
			clk.Advance(10 * time.Second)
			So(c.ShouldAdmit(msg("#flood")), ShouldEqual, admission.Admit)
		})
	})

	Convey("Given custom tiers", t, func() {
		c := admission.New(admission.WithTiers(map[model.EventKind]int{model.KindTopic: 3}))
		So(c.Tier(model.KindTopic), ShouldEqual, 3)
		So(c.Tier(model.KindMode), ShouldEqual, 1)
	})
}
