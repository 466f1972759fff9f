// Package wire holds the line-framing helpers shared by the relay
// session and mailbox façade: spec §6 frames every request and
// response body as CRLF-joined lines, tolerating bare LF on input.
package wire

import "strings"

// JoinLines joins lines with the canonical CRLF separator spec §6
// specifies for the relay wire protocol.
func JoinLines(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

// SplitLines splits body on CRLF, falling back to bare LF for
// tolerance, per spec §6 ("the client must also accept \n for
// tolerance"). Trailing empty lines produced by a final line
// terminator are dropped.
func SplitLines(body string) []string {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	if normalized == "" {
		return nil
	}
	lines := strings.Split(normalized, "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
