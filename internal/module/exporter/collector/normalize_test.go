package collector

import "testing"

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		title       string
		subCategory string
		want        string
	}{
		{name: "regular title passes through", title: "Early Bird", subCategory: "Presale", want: "Early Bird"},
		{name: "empty title", title: "", subCategory: "Presale", want: "Unknown Ticket"},
		{name: "numeric code with sub-category", title: "123456", subCategory: "VIP", want: "VIP"},
		{name: "numeric code without sub-category", title: "123456", subCategory: "", want: "123456"},
		{name: "short number is not a code", title: "42", subCategory: "VIP", want: "42"},
		{name: "numeric prefix counts as code", title: "1234 Floor", subCategory: "Floor", want: "Floor"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := normalizeTitle(tc.title, tc.subCategory); got != tc.want {
				t.Errorf("normalizeTitle(%q, %q): got %q, want %q", tc.title, tc.subCategory, got, tc.want)
			}
		})
	}
}

func TestDefaultString(t *testing.T) {
	t.Parallel()

	if got := defaultString("", "unknown"); got != "unknown" {
		t.Errorf("empty: got %q", got)
	}
	if got := defaultString("widget", "unknown"); got != "widget" {
		t.Errorf("non-empty: got %q", got)
	}
}
