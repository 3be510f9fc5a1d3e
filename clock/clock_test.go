package clock

import (
	"testing"
	"time"
)

func TestDayIn(t *testing.T) {
	cases := []struct {
		name string
		tz   string
		when time.Time
		want string
	}{
		{
			name: "UTC midday",
			tz:   "UTC",
			when: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
			want: "20260305",
		},
		{
			name: "New York late evening rolls to previous UTC day",
			tz:   "America/New_York",
			when: time.Date(2026, 3, 6, 2, 30, 0, 0, time.UTC),
			want: "20260305",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DayIn(tc.tz, tc.when)
			if err != nil {
				t.Fatalf("DayIn: %v", err)
			}
			if got != tc.want {
				t.Errorf("DayIn(%s, %s) = %s, want %s", tc.tz, tc.when, got, tc.want)
			}
		})
	}
}

func TestDayInUnknownZone(t *testing.T) {
	if _, err := DayIn("Not/AZone", time.Now()); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

func TestFixedAdvance(t *testing.T) {
	f := NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	before := f.Now()
	f.Advance(24 * time.Hour)
	if !f.Now().After(before) {
		t.Fatal("expected Fixed clock to advance")
	}
	got, err := Today(f, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if got != "20260102" {
		t.Errorf("Today = %s, want 20260102", got)
	}
}
