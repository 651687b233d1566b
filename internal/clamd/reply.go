package clamd

import (
	"regexp"
	"strings"
)

var (
	pongPattern  = regexp.MustCompile(`^PONG$`)
	statsPattern = regexp.MustCompile(`^POOLS:.*\n\nSTATE:\sVALID\sPRIMARY\n`)
	foundPattern = regexp.MustCompile(`(?m)^.*\sFOUND$`)
	// "<path>: <signature> FOUND"
	signaturePattern = regexp.MustCompile(`(?m)^.*:\s(\S+)\sFOUND$`)
)

// IsPong reports whether reply is clamd's answer to PING.
func IsPong(reply string) bool {
	return pongPattern.MatchString(strings.TrimRight(reply, "\r\n"))
}

// ValidStats reports whether a STATS reply describes a primary daemon with a
// valid signature database.
func ValidStats(reply string) bool {
	return statsPattern.MatchString(reply)
}

// Found reports whether any line of reply carries a FOUND verdict.
func Found(reply string) bool {
	return foundPattern.MatchString(reply)
}

// Signatures returns the signature names of every FOUND line in reply, in order.
func Signatures(reply string) []string {
	matches := signaturePattern.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
