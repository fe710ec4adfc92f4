package inventory

import (
	"strconv"
	"strings"
	"time"
)

// ChinaZone is the timezone upstream dates are expressed in.
var ChinaZone = time.FixedZone("CST", 8*60*60)

const dateLayout = "2006-01-02"

var relativeDays = map[string]int{
	"今天":        0,
	"today":     0,
	"明天":        1,
	"tomorrow":  1,
	"后天":        2,
	"day-after": 2,
}

// ResolveDate turns a user date expression into YYYY-MM-DD. It accepts relative words
// (今天/明天/后天, today/tomorrow/day-after), compact YYYYMMDD, and Y-M-D separated by '/', '.'
// or '-'. Anything else, including impossible calendar dates, resolves to the date of now.
func ResolveDate(expr string, now time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	expr = strings.TrimSpace(expr)

	if days, ok := relativeDays[strings.ToLower(expr)]; ok {
		return today.AddDate(0, 0, days).Format(dateLayout)
	}

	if len(expr) == 8 && isDigits(expr) {
		if t, err := time.Parse("20060102", expr); err == nil {
			return t.Format(dateLayout)
		}
		return today.Format(dateLayout)
	}

	for _, sep := range []string{"/", ".", "-"} {
		if !strings.Contains(expr, sep) {
			continue
		}
		parts := strings.Split(expr, sep)
		if len(parts) != 3 {
			continue
		}
		if t, ok := civilDate(parts[0], parts[1], parts[2]); ok {
			return t.Format(dateLayout)
		}
	}
	return today.Format(dateLayout)
}

func civilDate(ys, ms, ds string) (time.Time, bool) {
	y, err1 := strconv.Atoi(strings.TrimSpace(ys))
	m, err2 := strconv.Atoi(strings.TrimSpace(ms))
	d, err3 := strconv.Atoi(strings.TrimSpace(ds))
	if err1 != nil || err2 != nil || err3 != nil || y < 1000 || y > 9999 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
