package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseDuration parses an ISO-8601 duration such as "PT30M", "P1DT12H" or
// "PT0.5S". Years count as 365 days and months as 30 days. Strings that do not
// start with P (after an optional sign) are handed to time.ParseDuration, so
// "90s" and "1h30m" work too.
func ParseDuration(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}

	neg := false
	body := raw
	switch body[0] {
	case '-':
		neg = true
		body = body[1:]
	case '+':
		body = body[1:]
	}

	if body == "" || (body[0] != 'P' && body[0] != 'p') {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return d, nil
	}

	body = strings.ToUpper(body[1:])
	if body == "" || body == "T" {
		return 0, fmt.Errorf("invalid duration %q: no components", s)
	}

	var (
		total   float64
		inTime  bool
		num     strings.Builder
		seen    = make(map[string]bool)
		counted int
	)

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == 'T':
			if inTime || num.Len() > 0 {
				return 0, fmt.Errorf("invalid duration %q: misplaced T", s)
			}
			inTime = true
		case (c >= '0' && c <= '9') || c == '.' || c == ',':
			if c == ',' {
				c = '.'
			}
			num.WriteByte(c)
		default:
			if num.Len() == 0 {
				return 0, fmt.Errorf("invalid duration %q: unit %c without value", s, c)
			}
			unit, err := isoUnit(c, inTime)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			key := string(c)
			if inTime {
				key = "T" + key
			}
			if seen[key] {
				return 0, fmt.Errorf("invalid duration %q: repeated unit %c", s, c)
			}
			seen[key] = true

			v, err := strconv.ParseFloat(num.String(), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			total += v * float64(unit)
			num.Reset()
			counted++
		}
	}

	if num.Len() > 0 {
		return 0, fmt.Errorf("invalid duration %q: trailing number without unit", s)
	}
	if counted == 0 {
		return 0, fmt.Errorf("invalid duration %q: no components", s)
	}

	if total >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid duration %q: out of range", s)
	}
	d := time.Duration(total)
	if neg {
		d = -d
	}
	return d, nil
}

func isoUnit(c byte, inTime bool) (time.Duration, error) {
	if inTime {
		switch c {
		case 'H':
			return time.Hour, nil
		case 'M':
			return time.Minute, nil
		case 'S':
			return time.Second, nil
		}
		return 0, fmt.Errorf("unknown time unit %c", c)
	}
	switch c {
	case 'Y':
		return 365 * day, nil
	case 'M':
		return 30 * day, nil
	case 'W':
		return 7 * day, nil
	case 'D':
		return day, nil
	}
	return 0, fmt.Errorf("unknown date unit %c", c)
}

// FormatDuration renders d as an ISO-8601 duration using days, hours,
// minutes and seconds.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteByte('P')
	if days := d / day; days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		d -= days * day
	}
	if d == 0 {
		return b.String()
	}
	b.WriteByte('T')
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		d -= m * time.Minute
	}
	if d > 0 {
		b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
		b.WriteByte('S')
	}
	return b.String()
}
