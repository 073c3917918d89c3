package schema

import (
	"net/url"
	"strings"
)

// DefaultMeetHost is the conferencing host session ids are resolved against.
const DefaultMeetHost = "meet.example.com"

// ResolveSessionID extracts a session identifier from a navigable URL.
// The match is case-insensitive against host/<token> where token is one or
// more of [a-z0-9-]. Returns false when the URL does not name a session.
func ResolveSessionID(rawURL, host string) (SessionID, bool) {
	if strings.TrimSpace(host) == "" {
		host = DefaultMeetHost
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(parsed.Hostname(), host) {
		return "", false
	}
	path := strings.Trim(parsed.EscapedPath(), "/")
	if path == "" || strings.Contains(path, "/") {
		return "", false
	}
	token := strings.ToLower(path)
	if !validSessionToken(token) {
		return "", false
	}
	return SessionID(token), true
}

// ValidateSessionID checks a session id against the session-id grammar.
func ValidateSessionID(id SessionID) error {
	if !validSessionToken(string(id)) {
		return ErrInvalidSession
	}
	return nil
}

func validSessionToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
