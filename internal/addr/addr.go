// Package addr implements the small address-string helpers the SMTP
// envelope and attachment-naming code need: angle-bracket address
// extraction (RFC 5321 §4.1.2's reverse/forward-path syntax) and file
// base-name extraction.
package addr

import "strings"

// Extract returns the bracketed address from a string like
// `"Name" <user@host>`, skipping quoted sections and parenthesised
// comments. If no "<...>" is present, the whole string is returned.
func Extract(address string) string {
	parenDepth := 0
	addrStart := -1
	inQuote := false

	for i := 0; i < len(address); i++ {
		ch := address[i]
		switch {
		case inQuote:
			if ch == '"' {
				inQuote = false
			}
		case addrStart != -1:
			if ch == '>' {
				return address[addrStart:i]
			}
		case ch == '(':
			parenDepth++
		case ch == ')':
			parenDepth--
			if parenDepth < 0 {
				parenDepth = 0
			}
		case ch == '"':
			if parenDepth == 0 {
				inQuote = true
			}
		case ch == '<':
			if parenDepth == 0 {
				addrStart = i + 1
			}
		}
	}
	return address
}

// BaseName returns the last path segment of name, stripped of directory
// components, the way a Content-Disposition filename is derived from a
// display key that might itself look like a path.
func BaseName(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i != -1 {
		return name[i+1:]
	}
	return name
}
