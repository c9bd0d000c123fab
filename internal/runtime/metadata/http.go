package metadata

import (
	"net/http"
	"path"
	"strings"
)

// FromHTTPRequest maps the request headers that match any of patterns into
// metadata, along with the request method and URL. Patterns use path.Match
// syntax and are compared case-insensitively; "*" maps every header.
func FromHTTPRequest(r *http.Request, patterns []string) Metadata {
	md := make(Metadata, len(r.Header)+2)
	for name, values := range r.Header {
		if len(values) == 0 || !headerMatches(name, patterns) {
			continue
		}
		md[strings.ToLower(name)] = strings.Join(values, ",")
	}
	md[KeyRequestMethod] = r.Method
	md[KeyRequestURL] = r.URL.String()
	return md
}

func headerMatches(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		ok, err := path.Match(strings.ToLower(p), lower)
		if err == nil && ok {
			return true
		}
	}
	return false
}
