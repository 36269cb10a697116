// Package availability decides whether a user may be notified right now,
// based on the local hour in their timezone.
package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownTimezone is returned for labels outside UTC-12 .. UTC+14.
var ErrUnknownTimezone = errors.New("availability: unknown timezone")

const (
	minOffset = -12
	maxOffset = 14
)

// Labels returns every accepted timezone label, from UTC+14 down to UTC-12.
// Negative offsets are spelled with U+2212.
func Labels() []string {
	out := make([]string, 0, maxOffset-minOffset+1)
	for h := maxOffset; h >= minOffset; h-- {
		switch {
		case h > 0:
			out = append(out, fmt.Sprintf("UTC+%d", h))
		case h == 0:
			out = append(out, "UTC+0")
		default:
			out = append(out, fmt.Sprintf("UTC−%d", -h))
		}
	}
	return out
}

// ParseTimezone converts a "UTC±N" label into a fixed-offset location. Both
// U+2212 and ASCII '-' are accepted as the minus sign.
func ParseTimezone(label string) (*time.Location, error) {
	rest, ok := strings.CutPrefix(label, "UTC")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, label)
	}

	sign := 1
	switch {
	case strings.HasPrefix(rest, "+"):
		rest = rest[1:]
	case strings.HasPrefix(rest, "-"):
		sign, rest = -1, rest[1:]
	case strings.HasPrefix(rest, "−"):
		sign, rest = -1, rest[len("−"):]
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, label)
	}

	n, err := strconv.Atoi(rest)
	if err != nil || rest == "" || rest[0] == '+' || rest[0] == '-' {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, label)
	}
	offset := sign * n
	if offset < minOffset || offset > maxOffset {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, label)
	}
	return time.FixedZone(label, offset*3600), nil
}

// Gate holds the set of local hours during which delivery is allowed.
type Gate struct {
	hours [24]bool
}

// New returns a Gate allowing the given local hours.
func New(hours []int) (*Gate, error) {
	g := &Gate{}
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("availability: hour %d is outside 0-23", h)
		}
		g.hours[h] = true
	}
	return g, nil
}

// Available reports whether now, seen in the zone named by tzLabel, falls in
// an allowed hour.
func (g *Gate) Available(tzLabel string, now time.Time) (bool, error) {
	loc, err := ParseTimezone(tzLabel)
	if err != nil {
		return false, err
	}
	return g.hours[now.In(loc).Hour()], nil
}
