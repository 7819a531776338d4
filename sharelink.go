package confide

import (
	"net/url"
	"strings"
)

// DefaultShareBaseURL is the site that serves the decrypt page.
const DefaultShareBaseURL = "https://www.zingerfi.com"

// BuildShareLink returns a link to the decrypt page carrying envelope as the
// percent-encoded "message" query parameter.
func BuildShareLink(baseURL, envelope string) string {
	if baseURL == "" {
		baseURL = DefaultShareBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/decrypt?message=" + url.QueryEscape(envelope)
}

// ParseShareLink extracts the envelope from a share link. Text that is not
// a link is returned unchanged as a bare envelope.
func ParseShareLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", ErrInvalidShareLink
	}
	if !strings.Contains(link, "?") && !strings.Contains(link, "://") {
		return link, nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", ErrInvalidShareLink
	}
	msg := u.Query().Get("message")
	if msg == "" {
		return "", ErrInvalidShareLink
	}
	// An unescaped '+' in a hand-copied link decodes as a space; base64
	// never contains spaces.
	return strings.ReplaceAll(msg, " ", "+"), nil
}
