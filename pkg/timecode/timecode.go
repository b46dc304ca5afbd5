// Package timecode provides parsing and formatting of FFmpeg-style timecodes.
//
// A timecode is either a plain number of seconds ("90", "90.5") or a
// colon-separated clock value ("1:30", "01:30:05", "01:30:05.250"). Both
// forms are accepted by FFmpeg's -ss and -to options; this package
// normalizes them into time.Duration and back.
package timecode

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse converts a timecode string into a duration.
// Accepted forms: "SS", "SS.mmm", "MM:SS", "HH:MM:SS", "HH:MM:SS.mmm".
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timecode")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timecode %q: too many segments", s)
	}

	var hours, minutes int64
	var err error

	switch len(parts) {
	case 3:
		if hours, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
			return 0, fmt.Errorf("invalid timecode %q: %w", s, err)
		}
		fallthrough
	case 2:
		if minutes, err = strconv.ParseInt(parts[len(parts)-2], 10, 64); err != nil {
			return 0, fmt.Errorf("invalid timecode %q: %w", s, err)
		}
		if minutes > 59 && len(parts) == 3 {
			return 0, fmt.Errorf("invalid timecode %q: minutes out of range", s)
		}
	}

	seconds, err := parseSeconds(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid timecode %q: %w", s, err)
	}
	if len(parts) > 1 && seconds >= time.Minute {
		return 0, fmt.Errorf("invalid timecode %q: seconds out of range", s)
	}

	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + seconds
	if total < 0 {
		return 0, fmt.Errorf("invalid timecode %q: negative", s)
	}
	return total, nil
}

// parseSeconds parses the seconds segment, which may carry a fraction.
func parseSeconds(s string) (time.Duration, error) {
	whole := s
	var nanos int64

	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		whole = s[:dot]
		frac := s[dot+1:]
		if frac == "" {
			return 0, fmt.Errorf("trailing decimal point")
		}
		if len(frac) > 9 {
			frac = frac[:9]
		}
		for len(frac) < 9 {
			frac += "0"
		}
		n, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, err
		}
		nanos = n
	}

	if whole == "" {
		whole = "0"
	}
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	if secs < 0 || nanos < 0 {
		return 0, fmt.Errorf("negative value")
	}

	return time.Duration(secs)*time.Second + time.Duration(nanos), nil
}

// Format renders a duration as "HH:MM:SS.mmm", the canonical form passed
// to FFmpeg's -ss/-to options.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	millis := (d - seconds*time.Second) / time.Millisecond

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
