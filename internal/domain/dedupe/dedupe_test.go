package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/okian/parley/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWindowDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a deduper with a window of 3", t, func() {
		d := dedupe.NewWindowDeduper(dedupe.WithMaxSize(3))

		Convey("When an id is delivered twice", func() {
			first := d.SeenAndRecord(ctx, "e1")
			second := d.SeenAndRecord(ctx, "e1")

			Convey("Then only the redelivery is reported", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When more ids arrive than the window holds", func() {
			for _, id := range []string{"e1", "e2", "e3", "e4"} {
				So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
			}

			Convey("Then the oldest id is forgotten", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "e1"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "e4"), ShouldBeTrue)
			})
		})

		Convey("When an id is unrecorded", func() {
			d.SeenAndRecord(ctx, "e1")
			d.Unrecord(ctx, "e1")
			d.Unrecord(ctx, "missing")

			Convey("Then it is accepted again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "e1"), ShouldBeFalse)
			})
		})

		Convey("When an event carries no id", func() {
			So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
		})
	})

	Convey("Given a disabled deduper", t, func() {
		d := dedupe.NewWindowDeduper(dedupe.WithMaxSize(0))

		Convey("Then nothing is ever reported as seen", func() {
			So(d.SeenAndRecord(ctx, "e1"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "e1"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given concurrent deliveries", t, func() {
		d := dedupe.NewWindowDeduper(dedupe.WithMaxSize(1000))
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("e%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is accepted exactly once", func() {
			So(fresh, ShouldEqual, 100)
			So(d.Size(), ShouldEqual, 100)
		})
	})
}
