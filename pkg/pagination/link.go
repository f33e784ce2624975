package pagination

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// linkRegex matches Link header entries: <url>; rel="type".
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseLinks maps each rel of a Link header to its URL.
// A rel listing several names ("last next") yields one entry per name.
func ParseLinks(linkHeader string) map[string]string {
	links := make(map[string]string)
	if linkHeader == "" {
		return links
	}

	for _, part := range strings.Split(linkHeader, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) != 3 {
			continue
		}
		for _, rel := range strings.Fields(matches[2]) {
			links[rel] = matches[1]
		}
	}

	return links
}

// LastPage extracts the page query parameter of the rel="last" entry.
// ok is false when there is no such entry or it does not carry a positive
// page number.
func LastPage(linkHeader string) (page int, ok bool) {
	last, found := ParseLinks(linkHeader)["last"]
	if !found {
		return 0, false
	}

	u, err := url.Parse(last)
	if err != nil {
		return 0, false
	}

	page, err = strconv.Atoi(u.Query().Get("page"))
	if err != nil || page < 1 {
		return 0, false
	}
	return page, true
}
