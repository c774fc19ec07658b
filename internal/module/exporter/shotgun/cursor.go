package shotgun

import "net/url"

// ExtractCursor pulls the cursor token out of a pagination next URL.
// The upstream contract only guarantees that the next page is reachable
// through the cursor query parameter; everything else about the URL is
// opaque. Returns false when the URL is unparseable or carries no
// cursor, which callers treat as end of pagination.
func ExtractCursor(nextURL string) (string, bool) {
	if nextURL == "" {
		return "", false
	}

	u, err := url.Parse(nextURL)
	if err != nil {
		return "", false
	}

	cursor := u.Query().Get("cursor")
	if cursor == "" {
		return "", false
	}

	return cursor, true
}
