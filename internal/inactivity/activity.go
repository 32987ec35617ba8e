package inactivity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownActivity is returned for event kinds outside the activity contract.
var ErrUnknownActivity = errors.New("inactivity: unknown activity kind")

// Activity is a kind of user input that resets the idle counter.
// Values are the DOM event names the browser adapter listens for.
type Activity string

const (
	ActivityPointerDown Activity = "mousedown"
	ActivityPointerMove Activity = "mousemove"
	ActivityKeyPress    Activity = "keypress"
	ActivityScroll      Activity = "scroll"
	ActivityTouchStart  Activity = "touchstart"

	// ActivityContinue is the warning panel's continue control.
	ActivityContinue Activity = "continue"
)

// DOMEvents lists the document events that count as activity, in the order
// the browser adapter registers them.
var DOMEvents = []Activity{
	ActivityPointerDown,
	ActivityPointerMove,
	ActivityKeyPress,
	ActivityScroll,
	ActivityTouchStart,
}

// ParseActivity validates an event kind received from the browser.
func ParseActivity(s string) (Activity, error) {
	a := Activity(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActivityPointerDown, ActivityPointerMove, ActivityKeyPress,
		ActivityScroll, ActivityTouchStart, ActivityContinue:
		return a, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownActivity)
	}
}

// String returns the event name.
func (a Activity) String() string {
	return string(a)
}
