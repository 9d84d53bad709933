package registry

import (
	"testing"
	"time"
)

func TestParseCadence(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)

	cases := []struct {
		in   string
		ok   bool
		next time.Time
	}{
		{"30m", true, from.Add(30 * time.Minute)},
		{"2h30m", true, from.Add(150 * time.Minute)},
		{"00:50", true, from.Add(50 * time.Minute)},
		{"every:01:30", true, from.Add(90 * time.Minute)},
		{"*/15 * * * *", true, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)},
		{"@hourly", true, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"@every 45m", true, from.Add(45 * time.Minute)},
		{"cron:0 0 12 * * *", true, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"", false, time.Time{}},
		{"0m", false, time.Time{}},
		{"00:61", false, time.Time{}},
		{"-5m", false, time.Time{}},
		{"soon", false, time.Time{}},
		{"cron:", false, time.Time{}},
		{"* * *", false, time.Time{}},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			c, err := ParseCadence(tc.in)
			if tc.ok && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected error, got %+v", c)
				}
				return
			}
			if got := c.Next(from); !got.Equal(tc.next) {
				t.Fatalf("next: got %s want %s", got, tc.next)
			}
		})
	}
}
