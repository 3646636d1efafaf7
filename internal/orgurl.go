package internal

import (
	"regexp"
	"strings"
)

// OrgRef identifies an organization on the upstream map service.
type OrgRef struct {
	ID   string // Digits, at least five of them.
	Host string // "ru" or "com" mirror.
	Slug string // Optional human-readable path segment.
}

// Hostname returns the mirror hostname to scrape.
func (r OrgRef) Hostname() string {
	if r.Host == "com" {
		return "yandex.com"
	}
	return "yandex.ru"
}

// ReviewsURL returns the canonical reviews-tab URL for the organization.
func (r OrgRef) ReviewsURL() string {
	if r.Slug != "" {
		return "https://" + r.Hostname() + "/maps/org/" + r.Slug + "/" + r.ID + "/reviews/"
	}
	return "https://" + r.Hostname() + "/maps/org/" + r.ID + "/reviews/"
}

var (
	_orgSlugRE = regexp.MustCompile(`/org/([^/?#]+)/(\d{5,})`)
	_orgBareRE = regexp.MustCompile(`/org/(\d{5,})`)
	_oidRE     = regexp.MustCompile(`[?&]oid=(\d{5,})`)
	_oidLooseRE = regexp.MustCompile(`oid=(\d{5,})`)
)

// ParseOrganizationURL extracts the organization reference from a
// user-supplied URL. It never touches the network and returns errBadOrgURL
// for anything it can't recognize; malformed input is not an exception, it's
// an expected case.
func ParseOrganizationURL(raw string) (OrgRef, error) {
	ref := OrgRef{Host: "ru"}
	if strings.Contains(raw, "yandex.com") {
		ref.Host = "com"
	}

	if m := _orgSlugRE.FindStringSubmatch(raw); m != nil {
		ref.Slug = m[1]
		ref.ID = m[2]
		return ref, nil
	}
	if m := _orgBareRE.FindStringSubmatch(raw); m != nil {
		ref.ID = m[1]
		return ref, nil
	}
	if m := _oidRE.FindStringSubmatch(raw); m != nil {
		ref.ID = m[1]
		return ref, nil
	}
	if m := _oidLooseRE.FindStringSubmatch(raw); m != nil {
		ref.ID = m[1]
		return ref, nil
	}

	return OrgRef{}, errBadOrgURL
}

// ParseOrganizationID returns just the organization ID, or "" when the URL
// doesn't contain one.
func ParseOrganizationID(raw string) string {
	ref, err := ParseOrganizationURL(raw)
	if err != nil {
		return ""
	}
	return ref.ID
}
