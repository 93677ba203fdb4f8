package normalizer

import (
	"fmt"
	"strings"
	"time"
)

// Accepted timestamp layouts, tried in order. RFC3339 covers the common
// ISO-8601 forms with explicit offsets.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp converts a raw timestamp string to UTC. When the value
// carries no timezone, sourceTZ (an IANA name from the source mapping) is
// applied; an empty or unknown sourceTZ falls back to UTC and the caller
// records the assumption as a caveat rather than failing.
func parseTimestamp(raw string, sourceTZ string) (t time.Time, assumed bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, fmt.Errorf("empty timestamp")
	}

	// Explicit-offset forms need no timezone assumption.
	for _, layout := range timestampLayouts[:2] {
		if parsed, perr := time.Parse(layout, raw); perr == nil {
			return parsed.UTC(), false, nil
		}
	}

	loc := time.UTC
	assumed = true
	if sourceTZ != "" {
		if l, lerr := time.LoadLocation(sourceTZ); lerr == nil {
			loc = l
			assumed = false
		}
	}

	for _, layout := range timestampLayouts[2:] {
		if parsed, perr := time.ParseInLocation(layout, raw, loc); perr == nil {
			return parsed.UTC(), assumed, nil
		}
	}

	return time.Time{}, false, fmt.Errorf("unrecognized timestamp format: %q", raw)
}
