package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/parley/internal/domain/cache"
	"github.com/okian/parley/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCacheEviction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a cache with capacity 2", t, func() {
		c := cache.New(cache.WithCapacity(2))

		Convey("When A, B, C are referenced once each", func() {
			c.GetOrInsert(ctx, "A")
			c.GetOrInsert(ctx, "B")
			c.GetOrInsert(ctx, "C")

			Convey("Then A is evicted and B, C stay resident", func() {
				So(c.Contains("A"), ShouldBeFalse)
				So(c.Contains("B"), ShouldBeTrue)
				So(c.Contains("C"), ShouldBeTrue)
				So(c.Len(), ShouldEqual, 2)
				So(c.Stats().Evictions, ShouldEqual, 1)
			})
		})

		Convey("When A is referenced twice before C arrives", func() {
			c.GetOrInsert(ctx, "A")
			c.GetOrInsert(ctx, "B")
			c.GetOrInsert(ctx, "A")
			c.GetOrInsert(ctx, "C")

			Convey("Then the once-referenced B is evicted before A", func() {
				So(c.Contains("A"), ShouldBeTrue)
				So(c.Contains("B"), ShouldBeFalse)
				So(c.Contains("C"), ShouldBeTrue)
				So(c.Stats().Hot, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a cache of 8 entries with a hot working set", t, func() {
		c := cache.New(cache.WithCapacity(8))
		hot := []model.Key{"h1", "h2", "h3"}
		for _, k := range hot {
			c.GetOrInsert(ctx, k)
			c.GetOrInsert(ctx, k)
		}

		Convey("When a one-off scan larger than the cache passes through", func() {
			for i := 0; i < 100; i++ {
				c.GetOrInsert(ctx, model.Key(fmt.Sprintf("scan-%d", i)))
				if i%4 == 0 {
					for _, k := range hot {
						c.Get(ctx, k)
					}
				}
			}

			Convey("Then the working set survives", func() {
				for _, k := range hot {
					So(c.Contains(k), ShouldBeTrue)
				}
			})
		})
	})

	Convey("Given a recently evicted key", t, func() {
		c := cache.New(cache.WithCapacity(4))
		for _, k := range []model.Key{"a", "b", "c", "d", "e"} {
			c.GetOrInsert(ctx, k)
		}
		So(c.Contains("a"), ShouldBeFalse)
		before := c.Stats()

		Convey("When it is referenced again while remembered", func() {
			c.GetOrInsert(ctx, "a")
			after := c.Stats()

			Convey("Then it comes back hot and the cold target grows", func() {
				So(c.Contains("a"), ShouldBeTrue)
				So(after.Hot, ShouldBeGreaterThanOrEqualTo, 1)
				So(after.ColdTarget, ShouldEqual, before.ColdTarget+1)
			})
		})
	})
}

func TestCacheBound(t *testing.T) {
	ctx := context.Background()

	Convey("Given keys referenced far beyond capacity", t, func() {
		var evicted int
		c := cache.New(cache.WithCapacity(16), cache.WithOnEvict(func(model.Key) { evicted++ }))

		for i := 0; i < 2000; i++ {
			k := model.Key(fmt.Sprintf("k%d", i%97))
			if i%3 == 0 {
				c.GetOrInsert(ctx, k)
			} else {
				_, _ = c.Update(ctx, k, func(r *cache.Record) { r.Flags |= cache.FlagJoined })
			}
			So(c.Len(), ShouldBeLessThanOrEqualTo, 16)
		}

		Convey("Then residency never exceeds capacity and ghosts stay bounded", func() {
			st := c.Stats()
			So(st.Resident, ShouldBeLessThanOrEqualTo, 16)
			So(st.Ghosts, ShouldBeLessThanOrEqualTo, 16)
			So(st.ColdTarget, ShouldBeBetweenOrEqual, 1, 16)
			So(uint64(evicted), ShouldEqual, st.Evictions)
		})
	})
}

func TestCacheUpdate(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty cache", t, func() {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		c := cache.New(cache.WithCapacity(4), cache.WithClock(func() time.Time { return now }))

		Convey("When a record is updated", func() {
			rec, err := c.Update(ctx, "#chat", func(r *cache.Record) {
				r.Flags |= cache.FlagJoined
				r.SetAttr("topic", "hello")
			})

			Convey("Then the change is visible to the next GetOrInsert", func() {
				So(err, ShouldBeNil)
				So(rec.Key, ShouldEqual, model.Key("#chat"))
				got := c.GetOrInsert(ctx, "#chat")
				So(got.Has(cache.FlagJoined), ShouldBeTrue)
				So(got.Attr("topic"), ShouldEqual, "hello")
				So(got.LastSeen, ShouldEqual, now)
			})

			Convey("Then snapshots do not alias the stored record", func() {
				got := c.GetOrInsert(ctx, "#chat")
				got.Attrs["topic"] = "changed"
				again, _ := c.Get(ctx, "#chat")
				So(again.Attr("topic"), ShouldEqual, "hello")
			})
		})

		Convey("When a mutation panics", func() {
			_, _ = c.Update(ctx, "alice", func(r *cache.Record) { r.SetAttr("x", "1") })
			rec, err := c.Update(ctx, "alice", func(r *cache.Record) {
				r.SetAttr("x", "2")
				panic("boom")
			})

			Convey("Then the stored record is unchanged", func() {
				So(errors.Is(err, cache.ErrMutationPanicked), ShouldBeTrue)
				So(rec.Attr("x"), ShouldEqual, "1")
			})
		})

		Convey("When a mutation tries to rewrite the key", func() {
			rec, _ := c.Update(ctx, "alice", func(r *cache.Record) { r.Key = "mallory" })

			Convey("Then the key is preserved", func() {
				So(rec.Key, ShouldEqual, model.Key("alice"))
				So(c.Contains("mallory"), ShouldBeFalse)
			})
		})
	})

	Convey("Given concurrent updates to one key", t, func() {
		c := cache.New(cache.WithCapacity(4))
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.Update(ctx, "counter", func(r *cache.Record) {
					var n int
					fmt.Sscanf(r.Attr("n"), "%d", &n)
					r.SetAttr("n", fmt.Sprint(n+1))
				})
			}()
		}
		wg.Wait()

		Convey("Then no update is lost", func() {
			rec, ok := c.Get(ctx, "counter")
			So(ok, ShouldBeTrue)
			So(rec.Attr("n"), ShouldEqual, "50")
		})
	})
}

func TestCacheRemoveRename(t *testing.T) {
	ctx := context.Background()

	Convey("Given a cache with a referenced user", t, func() {
		c := cache.New(cache.WithCapacity(4))
		_, _ = c.Update(ctx, "alice", func(r *cache.Record) { r.Flags |= cache.FlagOperator })
		c.GetOrInsert(ctx, "alice")

		Convey("When the user is renamed", func() {
			ok := c.Rename(ctx, "alice", "alicia")

			Convey("Then the record moves with its state", func() {
				So(ok, ShouldBeTrue)
				So(c.Contains("alice"), ShouldBeFalse)
				rec, found := c.Peek("alicia")
				So(found, ShouldBeTrue)
				So(rec.Key, ShouldEqual, model.Key("alicia"))
				So(rec.Has(cache.FlagOperator), ShouldBeTrue)
				So(c.Stats().Resident, ShouldEqual, 1)
			})
		})

		Convey("When renaming an absent key", func() {
			So(c.Rename(ctx, "nobody", "someone"), ShouldBeFalse)
		})

		Convey("When the user is removed", func() {
			So(c.Remove(ctx, "alice"), ShouldBeTrue)

			Convey("Then later lookups miss", func() {
				_, ok := c.Get(ctx, "alice")
				So(ok, ShouldBeFalse)
				So(c.Remove(ctx, "alice"), ShouldBeFalse)
				So(c.Len(), ShouldEqual, 0)
			})
		})
	})
}
