package auth

import (
	"net/http"
	"strings"
)

// Rule requires Role for requests whose path matches Path (exact) or
// Prefix. An empty Methods list matches every method.
type Rule struct {
	Path    string
	Prefix  string
	Methods []string
	Role    Role
}

func (r Rule) matches(req *http.Request) bool {
	switch {
	case r.Path != "" && req.URL.Path != r.Path:
		return false
	case r.Prefix != "" && !strings.HasPrefix(req.URL.Path, r.Prefix):
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if req.Method == m {
			return true
		}
	}
	return false
}

var readMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// BillingRules guards the bill API. First match wins.
var BillingRules = []Rule{
	{Path: "/api/v1/bills/generate-all", Role: RoleAdmin},
	{Path: "/api/v1/bills/generate", Role: RoleOperator},
	{Path: "/api/v1/bills", Methods: readMethods, Role: RoleCustomer},
	{Prefix: "/api/v1/bills/", Methods: readMethods, Role: RoleCustomer},
	{Prefix: "/api/", Methods: readMethods, Role: RoleOperator},
	{Prefix: "/api/", Role: RoleAdmin},
}

// Policy maps requests to the minimum role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	Rules          []Rule
}

// NewDefaultPolicy builds a policy over BillingRules with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, Rules: BillingRules}
}

// IsExempt reports whether a request skips authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role of the first matching rule. Unmatched
// requests need no token.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.Rules {
		if rule.matches(r) {
			return rule.Role, true
		}
	}
	return "", false
}
