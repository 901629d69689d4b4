// Package ref validates revision and refspec strings. A ref is one or more
// '/'-separated segments each matching [A-Za-z0-9_.-]+; a refspec optionally
// prefixes a remote name and a colon, as in "builds:os/stable/x86_64".
package ref

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRef reports a ref or refspec that does not match the grammar.
var ErrInvalidRef = errors.New("invalid ref")

// Validators are compiled once at package initialization; there is no lazy
// state.
var (
	segmentPattern = `[A-Za-z0-9_.-]+`
	refRegexp      = regexp.MustCompile(`^(?:` + segmentPattern + `/)*` + segmentPattern + `$`)
	remoteRegexp   = regexp.MustCompile(`^` + segmentPattern + `$`)
)

// ValidateRef checks that rev is a well-formed ref.
func ValidateRef(rev string) error {
	if !refRegexp.MatchString(rev) {
		return fmt.Errorf("%w: %q", ErrInvalidRef, rev)
	}
	return nil
}

// ParseRefspec splits a refspec into its optional remote and its ref. A
// refspec without a colon is a local ref and remote is returned empty.
func ParseRefspec(refspec string) (remote, r string, err error) {
	if remotePart, refPart, ok := strings.Cut(refspec, ":"); ok {
		if !remoteRegexp.MatchString(remotePart) {
			return "", "", fmt.Errorf("%w: bad remote in %q", ErrInvalidRef, refspec)
		}
		if err := ValidateRef(refPart); err != nil {
			return "", "", err
		}
		return remotePart, refPart, nil
	}
	if err := ValidateRef(refspec); err != nil {
		return "", "", err
	}
	return "", refspec, nil
}
