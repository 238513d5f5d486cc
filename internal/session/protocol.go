package session

import (
	"strings"
	"unicode"
)

// Server → client lines.
const (
	WelcomeLine    = `WELCOME: send "LOGIN <username>" to join`
	LoginFirstLine = "ERROR You must login first with: LOGIN <username>"
	ByeLine        = "BYE"
)

const (
	loginCommand = "LOGIN"
	quitCommand  = "/quit"
)

// LoginOKLine is the confirmation sent to a session that just logged in.
func LoginOKLine(username string) string {
	return "LOGIN_OK Welcome, " + username
}

// JoinNotice is broadcast to everyone else when username logs in.
func JoinNotice(username string) string {
	return "SERVER: " + username + " has joined the chat"
}

// LeaveNotice is broadcast when an active session goes away.
func LeaveNotice(username string) string {
	return "SERVER: " + username + " has left the chat"
}

// ChatLine formats a relayed message.
func ChatLine(username, text string) string {
	return username + ": " + text
}

// ParseLogin extracts the username from "LOGIN <username>".  The
// username is everything after the first token, trimmed; it may contain
// spaces.  ok is false for any other command or an empty username.
func ParseLogin(line string) (username string, ok bool) {
	line = strings.TrimSpace(line)
	cut := strings.IndexFunc(line, unicode.IsSpace)
	if cut < 0 {
		return "", false
	}
	if line[:cut] != loginCommand {
		return "", false
	}
	username = strings.TrimSpace(line[cut:])
	return username, username != ""
}

// IsQuit reports whether text asks to leave.  Case-insensitive.
func IsQuit(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), quitCommand)
}
