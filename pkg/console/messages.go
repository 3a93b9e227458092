package console

import (
	"regexp"
	"strings"
)

// pendingMessages are transient conditions reported while a forced logoff or
// disconnect of the same user is still in progress. Logon is retried while
// one of these is on screen.
var pendingMessages = map[string]string{
	"HCPLGA361E": "LOGOFF/FORCE pending for user",
	"HCPUSO361E": "LOGOFF/FORCE pending for user",
}

// knownMessages maps system message codes surfaced during logon to their
// descriptions. Any of these aborts the login immediately.
var knownMessages = map[string]string{
	"HCPCFC015E": "Command not valid before LOGON",
	"HCPLGA050E": "LOGON unsuccessful--incorrect userid and/or password",
	"HCPLGA053E": "userid not in CP directory",
	"HCPLGA054E": "Already logged on",
	"HCPLGO045E": "userid not logged on",
	"HCPUSO045E": "userid not logged on",
}

// genericMessagePattern recognizes any other system error message: the fixed
// prefix, an alphanumeric code, a severity letter and optional free text.
// Informational severity is deliberately not matched; only actionable
// severities abort a login.
var genericMessagePattern = regexp.MustCompile(`(HCP[A-Z]{2,3}[0-9]{3}[AEW])(?: +([^\n]*))?`)

// findMessage scans screen text for a system message. pending reports a
// retryable condition; otherwise a found message is terminal for the caller.
func findMessage(text string) (code, description string, pending, found bool) {
	for c, d := range pendingMessages {
		if strings.Contains(text, c) {
			return c, d, true, true
		}
	}

	groups := genericMessagePattern.FindStringSubmatch(text)
	if groups == nil {
		return "", "", false, false
	}

	code = groups[1]
	if d, ok := knownMessages[code]; ok {
		return code, d, false, true
	}
	return code, groups[2], false, true
}
