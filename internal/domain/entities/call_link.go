package entities

import (
	"fmt"
	"net/url"
	"strings"
)

const callPath = "/video-call"

// BuildCallLink returns the deep link other pages use to join a call
func BuildCallLink(origin, sessionID string) string {
	return strings.TrimRight(origin, "/") + callPath + "?sessionId=" + url.QueryEscape(sessionID)
}

// ParseCallLink extracts the session id from a deep link. The origin may
// carry a base path, so only the last path segment has to match.
// The legacy callId parameter is accepted when sessionId is absent.
func ParseCallLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid call link: %w", err)
	}
	if !strings.HasSuffix(strings.TrimRight(u.Path, "/"), callPath) {
		return "", fmt.Errorf("invalid call link path %q", u.Path)
	}
	q := u.Query()
	if id := q.Get("sessionId"); id != "" {
		return id, nil
	}
	if id := q.Get("callId"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("call link has no session id")
}
