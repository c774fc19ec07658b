package collector

import "regexp"

const (
	unknownTicketTitle = "Unknown Ticket"
	unknownEventName   = "Unknown Event"
	unknownValue       = "unknown"
)

// numericCode matches titles that are upstream article codes rather
// than human-readable names.
var numericCode = regexp.MustCompile(`^[0-9]{3,}`)

// normalizeTitle substitutes the sub-category for numeric-code titles
// and falls back to a sentinel for empty ones.
func normalizeTitle(title, subCategory string) string {
	if title == "" {
		return unknownTicketTitle
	}

	if numericCode.MatchString(title) && subCategory != "" {
		return subCategory
	}

	return title
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
