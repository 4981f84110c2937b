package chat

import (
	"fmt"
	"strings"
)

// LoginPrefix starts the first line an unauthenticated client must send.
const LoginPrefix = "login:"

// LineTerminator ends every line the server writes.
const LineTerminator = "\r\n"

// HistoryHeader precedes the replayed history sent after a greeting.
const HistoryHeader = "Recent chat messages:"

const (
	rateLimitedNotice = "Message rejected: rate limit exceeded."
	blockedNotice     = "Too many failed login attempts."
)

// ParseLogin extracts the requested name from a login line. Surrounding
// whitespace is trimmed from the name.
//
// Parameters:
//   - line: A received line without its terminator
//
// Returns:
//   - The requested name
//   - false if line is not a login command or the name is blank
func ParseLogin(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, LoginPrefix)
	if !ok {
		return "", false
	}

	name := strings.TrimSpace(rest)
	if name == "" {
		return "", false
	}

	return name, true
}

// FormatBroadcast renders a chat line as delivered to the other sessions.
func FormatBroadcast(login string, line string) string {
	return fmt.Sprintf("%s: %s%s", login, line, LineTerminator)
}

// FormatHistory renders the replay block: the header, then every entry in
// the given order, each on its own line.
func FormatHistory(entries []string) string {
	var b strings.Builder
	b.WriteString(HistoryHeader)
	b.WriteString(LineTerminator)
	for _, entry := range entries {
		b.WriteString(entry)
		b.WriteString(LineTerminator)
	}

	return b.String()
}

func greeting(login string) string {
	return fmt.Sprintf("Hello, %s!%s", login, LineTerminator)
}

func rejection(requested string) string {
	return fmt.Sprintf("Login %s is taken, try another.%s", requested, LineTerminator)
}

func notice(text string) string {
	return text + LineTerminator
}
