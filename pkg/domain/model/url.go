package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Fingerprint is the deterministic dedup key for a normalized URL.
type Fingerprint string

// String returns the string representation of the fingerprint
func (f Fingerprint) String() string {
	return string(f)
}

// NewFingerprint computes the fingerprint of a normalized URL.
func NewFingerprint(normalizedURL string) Fingerprint {
	sum := sha256.Sum256([]byte(normalizedURL))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// trackingParams are query parameters that identify a campaign, not a page.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
}

func isTrackingParam(key string) bool {
	return trackingParams[key] || strings.HasPrefix(key, "utm_")
}

// spaFragment reports whether a URL fragment is a hash route rather than an
// in-page anchor. Hash routes change the rendered page and must survive
// normalization.
func spaFragment(fragment string) bool {
	return strings.HasPrefix(fragment, "/") || strings.HasPrefix(fragment, "!")
}

// NormalizeURL canonicalizes a raw URL for fingerprinting:
// lowercased scheme and host, default ports stripped, tracking parameters
// removed, remaining query parameters sorted, fragment dropped unless it is
// an SPA hash route. Only http and https URLs are accepted.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", goerr.Wrap(err, "unparsable URL", goerr.V("url", raw))
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", goerr.New("URL scheme must be http or https", goerr.V("url", raw), goerr.V("scheme", u.Scheme))
	}
	if u.Host == "" {
		return "", goerr.New("URL host is required", goerr.V("url", raw))
	}

	host := strings.ToLower(u.Host)
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	var query string
	if u.RawQuery != "" {
		values, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			return "", goerr.Wrap(err, "unparsable query string", goerr.V("url", raw))
		}
		for key := range values {
			if isTrackingParam(key) {
				delete(values, key)
			}
		}
		if len(values) > 0 {
			keys := make([]string, 0, len(values))
			for key := range values {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			var parts []string
			for _, key := range keys {
				vs := values[key]
				sort.Strings(vs)
				for _, v := range vs {
					parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
				}
			}
			query = "?" + strings.Join(parts, "&")
		}
	}

	var fragment string
	if u.Fragment != "" && spaFragment(u.Fragment) {
		fragment = "#" + u.Fragment
	}

	return scheme + "://" + host + path + query + fragment, nil
}
