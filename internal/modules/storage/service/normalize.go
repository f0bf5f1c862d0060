package service

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"market_ingest/internal/models"
)

// trackingParams are query keys that never change the addressed document.
var trackingParams = []string{
	"utm", "fbclid", "gclid", "dclid", "msclkid", "mc_cid", "mc_eid",
	"ref", "ref_src", "igshid", "cmpid", "guccounter", "guce_referrer",
	"guce_referrer_sig", "ncid", "yptr", "mod", "_hsenc", "_hsmi",
}

// URLNormalizer derives the identity key of an article URL.
type URLNormalizer struct {
	strip map[string]struct{}
}

func NewURLNormalizer(extra []string) *URLNormalizer {
	strip := make(map[string]struct{}, len(trackingParams)+len(extra))
	for _, p := range trackingParams {
		strip[p] = struct{}{}
	}
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			strip[p] = struct{}{}
		}
	}
	return &URLNormalizer{strip: strip}
}

// Normalize lower-cases scheme and host, drops the default port, the fragment
// and tracking parameters, sorts what is left of the query and strips the
// trailing slash of the path.
func (n *URLNormalizer) Normalize(raw string) (string, error) {
	const op = "normalize url"
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", models.Permanentf(op, "empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", models.Permanent(op, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", models.Permanentf(op, "unsupported scheme in %q", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", models.Permanentf(op, "missing host in %q", raw)
	}
	port := u.Port()
	if port == "" || (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
		if strings.Contains(host, ":") {
			u.Host = "[" + host + "]"
		}
	} else {
		u.Host = net.JoinHostPort(host, port)
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		if n.tracking(key) {
			q.Del(key)
		}
	}
	for _, vals := range q {
		sort.Strings(vals)
	}
	// Encode sorts by key
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	// trim on the escaped form so %2F stays distinct from /
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	if u.Path, err = url.PathUnescape(escaped); err != nil {
		return "", models.Permanent(op, err)
	}
	u.RawPath = escaped

	return u.String(), nil
}

func (n *URLNormalizer) tracking(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := n.strip[k]
	return ok
}
