package inventory

import (
	"testing"
	"time"
)

func TestResolveDate(t *testing.T) {
	now := time.Date(2024, 2, 28, 23, 59, 0, 0, ChinaZone)
	cases := map[string]string{
		"今天":         "2024-02-28",
		"today":      "2024-02-28",
		"明天":         "2024-02-29",
		"Tomorrow":   "2024-02-29",
		"后天":         "2024-03-01",
		"day-after":  "2024-03-01",
		"20240205":   "2024-02-05",
		"2024/2/5":   "2024-02-05",
		"2024.02.05": "2024-02-05",
		"2024-02-05": "2024-02-05",
		" 2024-12-31 ": "2024-12-31",
		"2024-02-30": "2024-02-28",
		"20241399":   "2024-02-28",
		"next week":  "2024-02-28",
		"":           "2024-02-28",
	}
	for in, want := range cases {
		if got := ResolveDate(in, now); got != want {
			t.Errorf("ResolveDate(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestResolveDateTomorrowCrossesMonth(t *testing.T) {
	now := time.Date(2024, 12, 31, 8, 0, 0, 0, ChinaZone)
	if got := ResolveDate("明天", now); got != "2025-01-01" {
		t.Fatalf("unexpected %s", got)
	}
}
