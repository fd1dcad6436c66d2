package invalidation

import (
	"encoding/json"
	"testing"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

func TestEventCacheKey(t *testing.T) {
	ev := Event{Op: OpRecompute, Mode: "transit", Departure: "10:00:00", DayType: "weekday"}
	key, err := ev.CacheKey()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := model.CacheKey{Mode: model.ModeTransit, Departure: "10:00:00", DayType: model.DayWeekday}
	if key != want {
		t.Fatalf("got %+v want %+v", key, want)
	}
}

func TestEventCacheKeyRejects(t *testing.T) {
	cases := []Event{
		{Op: "drop-tables", Mode: "transit", Departure: "10:00:00", DayType: "weekday"},
		{Op: OpRecompute, Mode: "hoverboard", Departure: "10:00:00", DayType: "weekday"},
		{Op: OpRecompute, Mode: "transit", Departure: "25:00:00", DayType: "weekday"},
		{Op: OpRecompute, Mode: "transit", Departure: "10:00:00", DayType: "someday"},
		{},
	}
	for i, ev := range cases {
		if _, err := ev.CacheKey(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, ev)
		}
	}
}

func TestEventDecode(t *testing.T) {
	raw := `{"op":"recompute","mode":"bike","departure":"08:00:00","day_type":"saturday","origin_ids":[1,2,3],"boroughs":["Queens"]}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ev.OriginIDs) != 3 || ev.Boroughs[0] != "Queens" {
		t.Fatalf("event: %+v", ev)
	}
	if _, err := ev.CacheKey(); err != nil {
		t.Fatalf("key: %v", err)
	}
}
