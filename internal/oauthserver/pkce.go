package oauthserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
)

// PKCE code challenge methods (RFC 7636)
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

var (
	verifierPattern  = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)
	challengePattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)
)

// ValidateCodeChallenge checks the challenge format and method
func ValidateCodeChallenge(challenge, method string) error {
	if method != PKCEMethodS256 && method != PKCEMethodPlain {
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
	if !challengePattern.MatchString(challenge) {
		return fmt.Errorf("code_challenge must be 43-128 unreserved characters")
	}
	return nil
}

// ComputeCodeChallenge derives the challenge for a verifier
func ComputeCodeChallenge(verifier, method string) (string, error) {
	if !verifierPattern.MatchString(verifier) {
		return "", fmt.Errorf("code_verifier must be 43-128 unreserved characters")
	}
	switch method {
	case PKCEMethodPlain:
		return verifier, nil
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported code_challenge_method %q", method)
	}
}

// VerifyCodeChallenge reports whether verifier matches challenge
func VerifyCodeChallenge(verifier, challenge, method string) bool {
	computed, err := ComputeCodeChallenge(verifier, method)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
