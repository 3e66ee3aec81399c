package calendar

import (
	"errors"
	"testing"
	"time"
)

type failingEarnings struct{}

func (failingEarnings) NextEarnings(string) (*time.Time, error) {
	return nil, errors.New("provider down")
}

func TestEarningsBlackoutWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	report := func(daysOut int) StaticEarnings {
		return StaticEarnings{"AAPL": now.AddDate(0, 0, daysOut)}
	}

	cases := []struct {
		name    string
		daysOut int
		want    bool
	}{
		{"report 7 days out", 7, false},
		{"report 5 days out", 5, true},
		{"report tomorrow", 1, true},
		{"report today", 0, true},
		{"reported 2 days ago", -2, true},
		{"reported 4 days ago", -4, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(report(tc.daysOut), nil, Config{})
			c.SetClock(func() time.Time { return now })

			got, reason, err := c.EarningsBlackout("AAPL")
			if err != nil {
				t.Fatalf("EarningsBlackout: %v", err)
			}
			if got != tc.want {
				t.Errorf("blackout = %v (reason %q), want %v", got, reason, tc.want)
			}
		})
	}
}

func TestEarningsBlackoutUnknownSymbol(t *testing.T) {
	c := New(StaticEarnings{}, nil, Config{})
	blocked, _, err := c.EarningsBlackout("ZZZZ")
	if err != nil || blocked {
		t.Errorf("unknown symbol: blocked=%v err=%v", blocked, err)
	}
}

func TestEarningsBlackoutPropagatesSourceError(t *testing.T) {
	c := New(failingEarnings{}, nil, Config{})
	if _, _, err := c.EarningsBlackout("AAPL"); err == nil {
		t.Error("expected source error to propagate")
	}
}

func TestEconomicBlackoutCoversEventDayAndNext(t *testing.T) {
	fomc := EconomicEvent{
		Date: time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC),
		Name: "FOMC",
	}
	c := New(nil, []EconomicEvent{fomc}, Config{})

	cases := []struct {
		day  time.Time
		want bool
	}{
		{time.Date(2026, 3, 17, 10, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 3, 19, 10, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		c.SetClock(func() time.Time { return tc.day })
		got, _ := c.EconomicBlackout()
		if got != tc.want {
			t.Errorf("%s: blackout = %v, want %v", tc.day.Format("2006-01-02"), got, tc.want)
		}
	}
}
