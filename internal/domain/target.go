package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// platformHosts maps each platform to the hostnames accepted for target URLs.
var platformHosts = map[string][]string{
	"instagram": {"instagram.com"},
	"tiktok":    {"tiktok.com"},
	"facebook":  {"facebook.com", "fb.com"},
	"x":         {"x.com", "twitter.com"},
}

// platformAccountURL formats a normalized account handle back into the
// canonical profile URL the provider expects as a scrape target.
var platformAccountURL = map[string]string{
	"instagram": "https://www.instagram.com/%s",
	"tiktok":    "https://www.tiktok.com/@%s",
	"facebook":  "https://www.facebook.com/%s",
	"x":         "https://x.com/%s",
}

// ParseTarget resolves a user-supplied target (a profile URL or a bare handle)
// into the account handle and the canonical target URL for the platform.
// Returns ErrInvalidTarget when the input cannot be interpreted as an account
// on the given platform.
func ParseTarget(platform, target string) (handle, targetURL string, err error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", "", fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	format, ok := platformAccountURL[platform]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown platform %q", ErrInvalidTarget, platform)
	}

	if strings.Contains(target, "://") || strings.HasPrefix(target, "www.") {
		handle, err = handleFromURL(platform, target)
		if err != nil {
			return "", "", err
		}
	} else {
		handle = strings.TrimPrefix(target, "@")
	}

	if !validHandle(handle) {
		return "", "", fmt.Errorf("%w: %q is not a valid %s account", ErrInvalidTarget, target, platform)
	}
	return handle, fmt.Sprintf(format, handle), nil
}

// handleFromURL extracts the account handle from a profile URL, checking that
// the host belongs to the platform.
func handleFromURL(platform, raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, parseErr := url.Parse(raw)
	if parseErr != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: cannot parse URL %q", ErrInvalidTarget, raw)
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	matched := false
	for _, allowed := range platformHosts[platform] {
		if host == allowed {
			matched = true
			break
		}
	}
	if !matched {
		return "", fmt.Errorf("%w: host %q does not belong to platform %s", ErrInvalidTarget, host, platform)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", fmt.Errorf("%w: URL %q has no account path", ErrInvalidTarget, raw)
	}
	return strings.TrimPrefix(segments[0], "@"), nil
}

// validHandle accepts the character set common to the supported platforms.
func validHandle(handle string) bool {
	if handle == "" {
		return false
	}
	for _, c := range handle {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
