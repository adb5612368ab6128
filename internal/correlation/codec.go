// Package correlation encodes and decodes the opaque reference string that
// ties a gateway-side payment back to a jar.
//
// Layout:
//
//	jar_<jarID>_<nonce>
//
// jarID is one or more of [A-Za-z0-9-]. nonce is everything after the second
// delimiter and must be one or more of [A-Za-z0-9-_]. A reference is at most
// MaxLength bytes.
package correlation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	Prefix    = "jar_"
	Delimiter = '_'
	MaxLength = 255
)

var ErrInvalidJarID = errors.New("jar id cannot be encoded in a correlation reference")

// Reference is a decoded correlation reference.
type Reference struct {
	JarID string
	Nonce string
}

func (r Reference) String() string {
	return Prefix + r.JarID + string(Delimiter) + r.Nonce
}

// DecodeError reports a structurally invalid reference.
type DecodeError struct {
	Input  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid correlation reference %q: %s", truncate(e.Input), e.Reason)
}

// Encode builds the reference for jarID and nonce.
func Encode(jarID, nonce string) (string, error) {
	if !validJarID(jarID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJarID, jarID)
	}
	if !validNonce(nonce) {
		return "", fmt.Errorf("invalid nonce %q", nonce)
	}
	ref := Reference{JarID: jarID, Nonce: nonce}.String()
	if len(ref) > MaxLength {
		return "", fmt.Errorf("correlation reference exceeds %d bytes", MaxLength)
	}
	return ref, nil
}

// NewNonce returns a millisecond timestamp followed by a random fragment, so
// two initiations for the same jar in the same millisecond still differ.
func NewNonce() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + random[:12]
}

// Decode parses ref. It only certifies structure, not that the jar exists.
func Decode(ref string) (Reference, error) {
	if len(ref) > MaxLength {
		return Reference{}, &DecodeError{Input: ref, Reason: "too long"}
	}
	if !strings.HasPrefix(ref, Prefix) {
		return Reference{}, &DecodeError{Input: ref, Reason: "missing jar_ prefix"}
	}
	rest := ref[len(Prefix):]
	i := strings.IndexByte(rest, Delimiter)
	if i < 0 {
		return Reference{}, &DecodeError{Input: ref, Reason: "missing nonce segment"}
	}
	jarID, nonce := rest[:i], rest[i+1:]
	if jarID == "" {
		return Reference{}, &DecodeError{Input: ref, Reason: "empty jar id"}
	}
	if !validJarID(jarID) {
		return Reference{}, &DecodeError{Input: ref, Reason: "jar id contains illegal characters"}
	}
	if nonce == "" {
		return Reference{}, &DecodeError{Input: ref, Reason: "empty nonce"}
	}
	if !validNonce(nonce) {
		return Reference{}, &DecodeError{Input: ref, Reason: "nonce contains illegal characters"}
	}
	return Reference{JarID: jarID, Nonce: nonce}, nil
}

func validJarID(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) && s[i] != '-' {
			return false
		}
	}
	return true
}

func validNonce(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '-' && c != Delimiter {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
