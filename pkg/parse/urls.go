package parse

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
)

var itemPathRe = regexp.MustCompile(`/video/(\d+)`)

// NormalizeURL standardizes a URL for comparison: lowercase scheme and host,
// no default port, no trailing slash, no fragment or query.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}

	normalized.Fragment = ""
	normalized.RawQuery = ""

	return normalized.String()
}

// ParseAndNormalize parses an absolute URL and normalizes it with NormalizeURL
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	if parsed.Host == "" {
		return "", nil, fmt.Errorf("url '%s' has no host", urlStr)
	}
	return NormalizeURL(parsed), parsed, nil
}

// ListingURL builds the page that lists items for a selector under baseURL
func ListingURL(baseURL string, mode models.SelectorKind, value string) (string, error) {
	_, base, err := ParseAndNormalize(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	base.RawQuery, base.Fragment = "", ""
	switch mode {
	case models.SelectorProfile:
		base.Path = "/@" + value
	case models.SelectorHashtag:
		base.Path = "/tag/" + value
	case models.SelectorExplore:
		base.Path = "/explore"
		if value != "" {
			q := url.Values{}
			q.Set("lang", "en")
			q.Set("category", value)
			base.RawQuery = q.Encode()
		}
	default:
		return "", fmt.Errorf("unknown selector kind '%s'", mode)
	}
	return base.String(), nil
}

// ItemURL builds the canonical page URL of one item
func ItemURL(baseURL, author, id string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if author == "" {
		return base + "/video/" + id
	}
	return base + "/@" + author + "/video/" + id
}

// ItemIDFromURL returns the numeric item id in a page URL, or ""
func ItemIDFromURL(raw string) string {
	m := itemPathRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsYouTubeURL reports whether raw points at a YouTube video
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com"
}
