package gobgp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxCommunicationLen is the largest shutdown communication a Cease
// NOTIFICATION can carry (RFC 9003 Section 2).
const MaxCommunicationLen = 255

// communicationPrefix marks sessions taken down by a test step so that
// the controller's logs can tell them from real failures.
const communicationPrefix = "csit:"

// FormatShutdownCommunication builds the administrative reason sent with
// DisablePeer. The result is truncated to MaxCommunicationLen bytes on a
// UTF-8 boundary.
//
// Format: "csit:<step>[: <reason>]".
func FormatShutdownCommunication(step, reason string) string {
	s := communicationPrefix + step
	if reason != "" {
		s = fmt.Sprintf("%s: %s", s, reason)
	}
	if len(s) <= MaxCommunicationLen {
		return s
	}
	s = s[:MaxCommunicationLen]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// ParseShutdownCommunication extracts the step and reason from a string
// built by FormatShutdownCommunication. It returns false for any other
// communication.
func ParseShutdownCommunication(communication string) (step, reason string, ok bool) {
	rest, ok := strings.CutPrefix(communication, communicationPrefix)
	if !ok {
		return "", "", false
	}
	step, reason, _ = strings.Cut(rest, ": ")
	return step, reason, true
}
