// Package clientinfo parses the FP-Client header the embed script sends
// with every forwarded request: its script revision and the surface the
// request originated from. Several near-duplicate script revisions are
// live across shops at any time, so the gateway keys compatibility
// behavior off the advertised revision.
package clientinfo

import (
	"errors"
	"strings"

	"github.com/dunglas/httpsfv"
	"golang.org/x/mod/semver"
)

// ClientInfo describes the embed script behind a request.
// Format: FP-Client: rev="v1.4.0";surface="product_page";src="fetch"
// (RFC 8941 Dictionary).
type ClientInfo struct {
	Rev     string // script revision, semver
	Surface string // surface tag: product_page, offer_modal, cart
	Source  string // interception mechanism tag
}

// Parse extracts ClientInfo from the header value. An empty header is not
// an error: oldest revisions predate the header and parse to a zero
// ClientInfo.
func Parse(header string) (ClientInfo, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ClientInfo{}, nil
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return ClientInfo{}, errors.New("malformed FP-Client header")
	}

	var info ClientInfo
	info.Rev = stringMember(dict, "rev")
	info.Surface = stringMember(dict, "surface")
	info.Source = stringMember(dict, "src")
	return info, nil
}

// stringMember reads a string dictionary member, "" when absent or not a
// string.
func stringMember(dict *httpsfv.Dictionary, key string) string {
	member, ok := dict.Get(key)
	if !ok {
		return ""
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return ""
	}
	s, ok := item.Value.(string)
	if !ok {
		return ""
	}
	return s
}

// AtLeast reports whether the client revision is at or past min. A missing
// or non-semver revision is treated as older than any minimum; an empty
// minimum accepts everything.
func (c ClientInfo) AtLeast(min string) bool {
	if min == "" {
		return true
	}
	rev := normalizeRev(c.Rev)
	min = normalizeRev(min)
	if !semver.IsValid(rev) || !semver.IsValid(min) {
		return false
	}
	return semver.Compare(rev, min) >= 0
}

// normalizeRev adds the "v" prefix semver requires.
func normalizeRev(v string) string {
	if v == "" {
		return ""
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
