package page

import (
	"net/url"
	"strings"
)

const searchURL = "https://www.google.com/search?q="

// NormalizeURL turns address-bar input into a loadable URL. Input that does
// not look like a host becomes a search, and bare registrable domains get a
// www prefix.
func NormalizeURL(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}

	local := strings.HasPrefix(s, "localhost") || strings.Contains(s, "://localhost")
	if strings.ContainsAny(s, " \t") || (!strings.Contains(s, ".") && !local) {
		return searchURL + url.QueryEscape(s)
	}

	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return s
	}

	host := u.Hostname()
	if !strings.HasPrefix(host, "www.") &&
		strings.Count(host, ".") == 1 &&
		host != "localhost" &&
		host != "127.0.0.1" {
		u.Host = "www." + u.Host
		return u.String()
	}

	return s
}
