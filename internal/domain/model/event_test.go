package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	model "github.com/okian/parley/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEventKind(t *testing.T) {
	convey.Convey("Given the closed set of event kinds", t, func() {
		convey.Convey("When parsing every known name", func() {
			convey.Convey("Then each parses back to itself", func() {
				for _, k := range model.AllKinds() {
					parsed, err := model.ParseEventKind(k.String())
					convey.So(err, convey.ShouldBeNil)
					convey.So(parsed, convey.ShouldEqual, k)
				}
			})
		})

		convey.Convey("When parsing with different case and spacing", func() {
			k, err := model.ParseEventKind("  JOIN ")

			convey.Convey("Then the kind is recognized", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(k, convey.ShouldEqual, model.KindJoin)
			})
		})

		convey.Convey("When parsing an unknown name", func() {
			_, err := model.ParseEventKind("wallops")

			convey.Convey("Then ErrUnknownKind is returned", func() {
				convey.So(errors.Is(err, model.ErrUnknownKind), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When rendering an out of range kind", func() {
			convey.So(model.EventKind(200).String(), convey.ShouldEqual, "unknown")
		})
	})
}

func TestPrefix(t *testing.T) {
	convey.Convey("Given protocol prefixes", t, func() {
		convey.Convey("When parsing a full nick!user@host", func() {
			p := model.ParsePrefix("alice!ali@example.org")

			convey.Convey("Then all parts are split", func() {
				convey.So(p.Nick, convey.ShouldEqual, "alice")
				convey.So(p.User, convey.ShouldEqual, "ali")
				convey.So(p.Host, convey.ShouldEqual, "example.org")
				convey.So(p.String(), convey.ShouldEqual, "alice!ali@example.org")
			})
		})

		convey.Convey("When parsing a bare nick", func() {
			p := model.ParsePrefix("bob")

			convey.Convey("Then only the nick is set", func() {
				convey.So(p, convey.ShouldResemble, model.Prefix{Nick: "bob"})
				convey.So(p.String(), convey.ShouldEqual, "bob")
			})
		})
	})
}

func TestEvent(t *testing.T) {
	convey.Convey("Given events with different targets", t, func() {
		channel := model.Event{Kind: model.KindMessage, Source: model.Prefix{Nick: "alice"}, Target: "#chat"}
		direct := model.Event{Kind: model.KindMessage, Source: model.Prefix{Nick: "alice"}, Target: "parley"}
		quit := model.Event{Kind: model.KindQuit, Source: model.Prefix{Nick: "alice"}}

		convey.Convey("Then channel events order on the channel", func() {
			convey.So(channel.IsChannel(), convey.ShouldBeTrue)
			convey.So(channel.IsDirect(), convey.ShouldBeFalse)
			convey.So(channel.OrderingTarget(), convey.ShouldEqual, "#chat")
		})

		convey.Convey("Then direct messages order and reply on the sender", func() {
			convey.So(direct.IsDirect(), convey.ShouldBeTrue)
			convey.So(direct.OrderingTarget(), convey.ShouldEqual, "alice")
			convey.So(direct.ReplyTarget(), convey.ShouldEqual, "alice")
		})

		convey.Convey("Then targetless events order on the sender", func() {
			convey.So(quit.IsChannel(), convey.ShouldBeFalse)
			convey.So(quit.IsDirect(), convey.ShouldBeFalse)
			convey.So(quit.OrderingTarget(), convey.ShouldEqual, "alice")
		})
	})

	convey.Convey("Given the JSON wire shape", t, func() {
		ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		raw := `{"id":"e1","kind":"topic","source":"alice!a@h","target":"#chat","payload":"hello","ts":"2024-05-01T12:00:00Z"}`

		convey.Convey("When decoding a valid event", func() {
			var ev model.Event
			err := json.Unmarshal([]byte(raw), &ev)

			convey.Convey("Then fields are populated", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ev.ID, convey.ShouldEqual, "e1")
				convey.So(ev.Kind, convey.ShouldEqual, model.KindTopic)
				convey.So(ev.Source.Nick, convey.ShouldEqual, "alice")
				convey.So(ev.Target, convey.ShouldEqual, "#chat")
				convey.So(ev.TS.Equal(ts), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When decoding an unknown kind", func() {
			var ev model.Event
			err := json.Unmarshal([]byte(`{"kind":"wallops","source":"x"}`), &ev)

			convey.Convey("Then the event is rejected", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestCasemapping(t *testing.T) {
	convey.Convey("Given the casemappings", t, func() {
		convey.Convey("When folding under rfc1459", func() {
			convey.So(model.RFC1459.Key("Nick[A]\\~"), convey.ShouldEqual, model.Key("nick{a}|^"))
			convey.So(model.RFC1459.Equal("#Chat", "#chat"), convey.ShouldBeTrue)
		})

		convey.Convey("When folding under strict-rfc1459", func() {
			convey.So(model.StrictRFC1459.Fold("A[~"), convey.ShouldEqual, "a{~")
		})

		convey.Convey("When folding under ascii", func() {
			convey.So(model.ASCII.Fold("A[]"), convey.ShouldEqual, "a[]")
			convey.So(model.ASCII.Equal("foo[", "foo{"), convey.ShouldBeFalse)
		})

		convey.Convey("When parsing configuration names", func() {
			cm, err := model.ParseCasemapping("strict-rfc1459")
			convey.So(err, convey.ShouldBeNil)
			convey.So(cm, convey.ShouldEqual, model.StrictRFC1459)

			cm, err = model.ParseCasemapping("")
			convey.So(err, convey.ShouldBeNil)
			convey.So(cm, convey.ShouldEqual, model.RFC1459)

			_, err = model.ParseCasemapping("utf8")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
