// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package timeexp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// timestampPattern matches [hh:]mm:ss[.fff] with an optional leading minus.
var timestampPattern = regexp.MustCompile(`^(-)?(?:(\d+):)?(\d{1,2}):(\d{1,2})(?:\.(\d{1,3}))?$`)

// TimestampToMs parses a timestamp string into milliseconds. Accepted
// forms are `[hh:]mm:ss[.fff]` and bare millisecond integers, either
// optionally negative. Sub-millisecond digits are not accepted.
func TimestampToMs(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	// Bare milliseconds.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}

	m := timestampPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	hours := int64(0)
	if m[2] != "" {
		h, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		hours = h
	}
	minutes, _ := strconv.ParseInt(m[3], 10, 64)
	seconds, _ := strconv.ParseInt(m[4], 10, 64)
	if seconds > 59 {
		return 0, fmt.Errorf("invalid timestamp %q: seconds out of range", s)
	}
	if m[2] != "" && minutes > 59 {
		return 0, fmt.Errorf("invalid timestamp %q: minutes out of range", s)
	}

	millis := int64(0)
	if m[5] != "" {
		// Right-pad to three digits so ".5" means 500ms.
		frac := m[5] + strings.Repeat("0", 3-len(m[5]))
		millis, _ = strconv.ParseInt(frac, 10, 64)
	}

	total := ((hours*60+minutes)*60+seconds)*1000 + millis
	if m[1] == "-" {
		total = -total
	}
	return total, nil
}

// MsToTimestamp formats milliseconds as the canonical `h:mm:ss[.fff]`
// string. The fractional part is omitted when zero.
func MsToTimestamp(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	millis := ms % 1000
	secs := ms / 1000
	hours := secs / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60
	if millis == 0 {
		return fmt.Sprintf("%s%d:%02d:%02d", sign, hours, minutes, seconds)
	}
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, hours, minutes, seconds, millis)
}
