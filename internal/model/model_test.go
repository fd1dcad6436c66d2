package model

import "testing"

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"transit", ModeTransit, true},
		{" Transit ", ModeTransit, true},
		{"transit-bike", ModeTransitBike, true},
		{"transit+bike", ModeTransitBike, true},
		{"bike", ModeBike, true},
		{"walk", ModeWalk, true},
		{"drive", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := ParseMode(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Fatalf("ParseMode(%q) = %q; want error", c.in, got)
		}
	}
}

func TestParseDeparture(t *testing.T) {
	for _, ok := range []string{"00:00:00", "10:00:00", "23:59:59"} {
		if _, err := ParseDeparture(ok); err != nil {
			t.Fatalf("ParseDeparture(%q): unexpected err %v", ok, err)
		}
	}
	for _, bad := range []string{"24:00:00", "10:60:00", "10:00", "10-00-00", "ten"} {
		if _, err := ParseDeparture(bad); err == nil {
			t.Fatalf("ParseDeparture(%q): expected error", bad)
		}
	}
}

func TestParseDayType(t *testing.T) {
	if d, err := ParseDayType("Saturday"); err != nil || d != DaySaturday {
		t.Fatalf("got %q, %v", d, err)
	}
	if _, err := ParseDayType("holiday"); err == nil {
		t.Fatal("expected error for unknown day type")
	}
}

func TestCacheKeyString(t *testing.T) {
	k := CacheKey{Mode: ModeTransit, Departure: "10:00:00", DayType: DayWeekday}
	if got := k.String(); got != "transit@10:00:00/weekday" {
		t.Fatalf("got %q", got)
	}
}

func TestMaxCutoff(t *testing.T) {
	if got := MaxCutoff(DefaultCutoffs()); got != 180 {
		t.Fatalf("got %d want 180", got)
	}
	if got := MaxCutoff(nil); got != 0 {
		t.Fatalf("got %d want 0", got)
	}
}
