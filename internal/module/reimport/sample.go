package reimport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sample is one timestamped metric observation in the exposition form
// accepted by the bulk import endpoint:
//
//	metric{label="value",...} value timestamp_ms
type Sample struct {
	Metric      string
	Labels      []Label
	Value       float64
	TimestampMs int64
}

type Label struct {
	Name  string
	Value string
}

func (s Sample) Line() string {
	pairs := make([]string, len(s.Labels))
	for i, l := range s.Labels {
		pairs[i] = fmt.Sprintf(`%s="%s"`, l.Name, escapeLabelValue(l.Value))
	}

	return fmt.Sprintf("%s{%s} %s %d", s.Metric, strings.Join(pairs, ","), formatValue(s.Value), s.TimestampMs)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// timestampLayouts covers upstream timestamp shapes: full RFC 3339 with
// zone, and zone-less variants which are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestampMs(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UnixMilli(), nil
		}
	}

	return 0, fmt.Errorf("unparseable timestamp %q", s)
}
