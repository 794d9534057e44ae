// Package garde provides the safety primitives the evidence service depends
// on: secret length enforcement, SSRF checks for inspected URLs, traversal
// guards for vault-relative paths, identifier validation for chain ids, and
// bounded I/O helpers.
package garde

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// MinSecretLen is the minimum acceptable length for symmetric secrets
// (JWT HS256 signing keys). 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

// MaxFetchBody is the default cap for inspected-page body reads (4 MiB).
const MaxFetchBody int64 = 4 << 20

// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("garde: secret must be at least %d bytes", MinSecretLen)

// ErrPathTraversal is returned when a supplied path escapes its base.
var ErrPathTraversal = errors.New("garde: path traversal detected")

// ErrSSRF is returned when a URL targets a private or loopback address.
var ErrSSRF = errors.New("garde: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("garde: only http and https schemes are allowed")

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// SafePath validates that joining base and rel does not escape base.
// Returns the cleaned absolute path or ErrPathTraversal. Every vault access
// goes through this before touching the filesystem.
func SafePath(base, rel string) (string, error) {
	if strings.Contains(rel, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+rel))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP. Evidence must come from addresses
// an outside party could also reach, so internal targets are refused.
// DNS resolution is performed to catch internal hostnames.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("garde: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("garde: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// DNS failure: let it through, the dial will fail with a clearer
		// error if the host really does not exist.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateIdentifier rejects identifiers unsuitable for file names or URL
// path segments. Chain ids become vault file names, so the rule is strict:
// alphanumeric, underscore, hyphen and dot, must start alphanumeric.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("garde: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("garde: identifier too long (max 256)")
	}
	if !isAlnum(rune(s[0])) {
		return fmt.Errorf("garde: identifier must start with an alphanumeric character")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("garde: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and errors out beyond that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("garde: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isIdentChar(r rune) bool {
	return isAlnum(r) || r == '_' || r == '-' || r == '.'
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
		"169.254.0.0/16",
		"::1/128",
	}
	for _, pr := range privateRanges {
		_, cidr, err := net.ParseCIDR(pr)
		if err != nil {
			continue
		}
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
