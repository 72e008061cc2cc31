// Package policy decides which target URLs the proxy may fetch.
package policy

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonOK                   Reason = "ok"
	ReasonMissingParam         Reason = "missing-param"
	ReasonInvalidURL           Reason = "invalid-url"
	ReasonBadScheme            Reason = "bad-scheme"
	ReasonDomainNotWhitelisted Reason = "domain-not-whitelisted"
)

// DefaultHosts is the allow-list used when configuration names none.
var DefaultHosts = []string{
	"www.crazycattle-3d.info",
	"play.famobi.com",
	"html5games.com",
}

// rejections maps each failing Reason to its response status and body.
var rejections = map[Reason]struct {
	status  int
	message string
}{
	ReasonMissingParam:         {http.StatusBadRequest, `Missing "url" query parameter`},
	ReasonInvalidURL:           {http.StatusBadRequest, `Invalid "url" query parameter`},
	ReasonBadScheme:            {http.StatusBadRequest, "Only HTTPS URLs are allowed"},
	ReasonDomainNotWhitelisted: {http.StatusForbidden, "Domain not allowed"},
}

// RejectError is returned for target URLs the policy refuses.
type RejectError struct {
	Reason  Reason
	Status  int
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("policy: %s", e.Reason)
}

// Decision is the outcome of evaluating one target URL.
type Decision struct {
	Allowed bool
	Reason  Reason
	Target  *url.URL
}

// Err returns the rejection as an error, or nil when the target is allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	r, ok := rejections[d.Reason]
	if !ok {
		r = rejections[ReasonInvalidURL]
	}
	return &RejectError{Reason: d.Reason, Status: r.status, Message: r.message}
}

// Allowlist is an immutable set of upstream hostnames.
type Allowlist struct {
	hosts map[string]struct{}
}

// NewAllowlist builds an Allowlist from hostnames. Duplicates are ignored.
func NewAllowlist(hosts []string) *Allowlist {
	m := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		m[h] = struct{}{}
	}
	return &Allowlist{hosts: m}
}

// Contains reports whether host is an exact member of the list.
func (a *Allowlist) Contains(host string) bool {
	_, ok := a.hosts[host]
	return ok
}

// Hosts returns the hostnames in sorted order.
func (a *Allowlist) Hosts() []string {
	out := make([]string, 0, len(a.hosts))
	for h := range a.hosts {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of hostnames.
func (a *Allowlist) Len() int {
	return len(a.hosts)
}

// Evaluate validates raw as a proxy target. Checks run in a fixed order and
// the first failure wins: presence, parse, scheme, host membership.
func (a *Allowlist) Evaluate(raw string) Decision {
	if raw == "" {
		return Decision{Reason: ReasonMissingParam}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return Decision{Reason: ReasonInvalidURL}
	}
	if u.Scheme != "https" {
		return Decision{Reason: ReasonBadScheme}
	}

	// URL parsers lower-case hosts of http(s) URLs; membership is exact after that.
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Decision{Reason: ReasonInvalidURL}
	}
	if !a.Contains(host) {
		return Decision{Reason: ReasonDomainNotWhitelisted}
	}

	return Decision{Allowed: true, Reason: ReasonOK, Target: u}
}
