// Package canon normalizes raw target URLs and derives the stable
// canonical identity used to deduplicate probe targets across tenants.
package canon

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/probeworks/probemeter/internal/domain"
)

// Normalize canonicalizes a raw URL:
//  1. An absent scheme defaults to http.
//  2. Scheme and host are lowercased.
//  3. Trailing slashes are stripped from the path.
//  4. Query string and fragment are discarded.
//
// A tcp:// URL selects a port probe and must carry an explicit port.
// Returns an error when the URL cannot be parsed or has no host.
func Normalize(raw string) (string, domain.ProbeType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	if u.Host == "" {
		return "", "", fmt.Errorf("url has no host")
	}

	switch u.Scheme {
	case "http", "https":
		return u.String(), domain.ProbeHTTP, nil
	case "tcp":
		if u.Port() == "" {
			return "", "", fmt.Errorf("tcp url requires a port")
		}
		return u.String(), domain.ProbePort, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// CID derives the canonical target identity from a normalized URL.
// It is a version-5 UUID in the URL namespace, so identical effective
// targets collapse to one identity no matter which tenant submits them.
func CID(normalized string) domain.CID {
	return domain.CID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(normalized)).String())
}
