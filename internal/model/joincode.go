package model

import (
	"regexp"
	"strings"
)

const (
	// JoinCodeLength is the length of generated join codes
	JoinCodeLength = 6
	// JoinCodeAlphabet is the characters join codes are drawn from
	JoinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var joinCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// JoinCode is the short human-typed code used to find a session
type JoinCode string

// NormalizeJoinCode trims and uppercases a code as typed by a person
func NormalizeJoinCode(raw string) JoinCode {
	return JoinCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// Valid reports whether the code has the expected shape
func (c JoinCode) Valid() bool {
	return joinCodePattern.MatchString(string(c))
}
