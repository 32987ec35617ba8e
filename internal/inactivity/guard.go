package inactivity

import "strings"

// DefaultLoginMarker identifies the login page by URL content.
const DefaultLoginMarker = "login"

// ShouldMonitor reports whether a page at rawURL gets an inactivity monitor.
// The login page has no authenticated session to expire.
func ShouldMonitor(rawURL, loginMarker string) bool {
	if loginMarker == "" {
		loginMarker = DefaultLoginMarker
	}
	return !strings.Contains(rawURL, loginMarker)
}
