// Copyright 2026 The Prefork Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prefork

import (
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEventValidation(t *testing.T) {
	Convey("Constructing events", t, func() {
		Convey("Unknown kinds are refused", func() {
			ev, e := NewEvent("foo", Kind("bogus"), nil)
			So(ev, ShouldBeNil)
			var ve *ValidationError
			So(errors.As(e, &ve), ShouldBeTrue)
			So(ve.Field, ShouldEqual, "type")
			So(e.Error(), ShouldContainSubstring, "{message,event,log}")
		})
		Convey("Scalar meta is refused", func() {
			_, e := NewEvent("foo", KindEvent, 3)
			var ve *ValidationError
			So(errors.As(e, &ve), ShouldBeTrue)
			So(ve.Field, ShouldEqual, "meta")
			So(e.Error(), ShouldContainSubstring, "string-keyed")
		})
		Convey("Maps keyed by other types are refused", func() {
			_, e := NewEvent("foo", KindEvent, map[int]string{1: "a"})
			So(e, ShouldNotBeNil)
		})
		Convey("Typed string-keyed maps are accepted", func() {
			ev, e := NewEvent("foo", KindEvent, map[string]int{"id": 7})
			So(e, ShouldBeNil)
			id, ok := ev.Meta().ID()
			So(ok, ShouldBeTrue)
			So(id, ShouldEqual, 7)
		})
		Convey("Nil meta becomes empty", func() {
			ev, e := NewEvent("foo", KindMessage, nil)
			So(e, ShouldBeNil)
			So(ev.Meta(), ShouldNotBeNil)
			So(len(ev.Meta()), ShouldEqual, 0)
			_, ok := ev.Meta().ID()
			So(ok, ShouldBeFalse)
		})
	})
}

func TestEventDescribe(t *testing.T) {
	Convey("Describe renders kind, name, meta and data", t, func() {
		ev, e := NewEvent("foo", KindEvent, Meta{"id": 3}, 1, "a")
		So(e, ShouldBeNil)
		So(ev.Describe(), ShouldEqual, `[event] foo({"id":3}): 1, "a".`)

		ev, e = NewEvent("bar", KindLog, nil)
		So(e, ShouldBeNil)
		So(ev.Describe(), ShouldEqual, `[log] bar({}): .`)
	})
}

func TestEventImmutable(t *testing.T) {
	Convey("Events cannot be changed through their accessors", t, func() {
		meta := Meta{"k": "v"}
		data := []interface{}{"x", 2}
		ev, e := NewEvent("foo", KindEvent, meta, data...)
		So(e, ShouldBeNil)

		meta["k"] = "changed"
		data[0] = "changed"
		ev.Meta()["k"] = "again"
		ev.Data()[0] = "again"

		So(ev.Meta()["k"], ShouldEqual, "v")
		So(ev.Data()[0], ShouldEqual, "x")

		Convey("WithMeta copies", func() {
			ev2 := ev.WithMeta("id", 4)
			So(ev2.Meta()["id"], ShouldEqual, 4)
			_, ok := ev.Meta()["id"]
			So(ok, ShouldBeFalse)
			So(ev2.Name(), ShouldEqual, "foo")
			So(ev2.Kind(), ShouldEqual, KindEvent)
		})
	})
}

func TestMetaID(t *testing.T) {
	Convey("Meta IDs survive the number types JSON produces", t, func() {
		for _, v := range []interface{}{5, int64(5), float64(5), json.Number("5")} {
			id, ok := Meta{"id": v}.ID()
			So(ok, ShouldBeTrue)
			So(id, ShouldEqual, 5)
		}
		_, ok := Meta{"id": "5"}.ID()
		So(ok, ShouldBeFalse)
	})
}

func genKind() *rapid.Generator[Kind] {
	return rapid.SampledFrom([]Kind{KindMessage, KindEvent, KindLog})
}

func TestEventRecordRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-z][a-z0-9:]{0,15}`).Draw(rt, "name")
		kind := genKind().Draw(rt, "kind")
		keys := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z]{1,6}`),
			func(s string) string { return s }).Draw(rt, "keys")
		meta := Meta{}
		for i, k := range keys {
			meta[k] = float64(i)
		}
		strs := rapid.SliceOfN(rapid.StringMatching(`[ -~]{0,12}`), 0, 4).Draw(rt, "data")
		data := make([]interface{}, 0, len(strs))
		for _, s := range strs {
			data = append(data, s)
		}

		ev, e := NewEvent(name, kind, meta, data...)
		require.NoError(rt, e)

		back, e := FromRecord(ev.Record())
		require.NoError(rt, e)
		require.Equal(rt, ev.Name(), back.Name())
		require.Equal(rt, ev.Kind(), back.Kind())
		require.Equal(rt, ev.Data(), back.Data())
		require.Equal(rt, ev.Meta(), back.Meta())

		// And across the wire, where numbers come back as float64.
		b, e := json.Marshal(ev.Record())
		require.NoError(rt, e)
		var r Record
		require.NoError(rt, json.Unmarshal(b, &r))
		wire, e := FromRecord(r)
		require.NoError(rt, e)
		require.Equal(rt, ev.Describe(), wire.Describe())
	})
}
