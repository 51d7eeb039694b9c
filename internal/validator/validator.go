// Package validator decides whether a URL points at a single product page on
// one of the supported marketplaces.
package validator

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rejection reasons reported by Check.
const (
	ReasonDomain  = "domain_not_allowed"
	ReasonDetail  = "no_detail_pattern"
	ReasonListing = "listing_pattern"
)

// Marketplace is one supported store and the path fragment unique to its
// product detail pages.
type Marketplace struct {
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"`
	Detail  string   `yaml:"detail"`
}

// Rules is the validator configuration.
type Rules struct {
	Marketplaces []Marketplace `yaml:"marketplaces"`
	Listing      []string      `yaml:"listing"`
}

// Validator classifies URLs. It is immutable and safe for concurrent use.
type Validator struct {
	markets []Marketplace
	domains []string
	detail  []string
	listing []string
}

// Default returns a Validator built from the embedded marketplace rules.
func Default() *Validator {
	v, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded validator rules: %v", err))
	}
	return v
}

// Load reads rules from a YAML file. An empty path yields Default().
func Load(path string) (*Validator, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading validator rules: %w", err)
	}
	return Parse(data)
}

// Parse builds a Validator from YAML rules.
func Parse(data []byte) (*Validator, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing validator rules: %w", err)
	}
	return New(r)
}

// New builds a Validator from rules. All patterns are matched lower-cased.
func New(r Rules) (*Validator, error) {
	if len(r.Marketplaces) == 0 {
		return nil, fmt.Errorf("validator rules define no marketplaces")
	}
	v := &Validator{}
	for _, m := range r.Marketplaces {
		if m.Name == "" || len(m.Domains) == 0 || m.Detail == "" {
			return nil, fmt.Errorf("marketplace %q needs name, domains and detail", m.Name)
		}
		norm := Marketplace{Name: m.Name, Detail: strings.ToLower(m.Detail)}
		for _, d := range m.Domains {
			norm.Domains = append(norm.Domains, strings.ToLower(d))
		}
		v.markets = append(v.markets, norm)
		v.domains = append(v.domains, norm.Domains...)
		v.detail = append(v.detail, norm.Detail)
	}
	for _, p := range r.Listing {
		v.listing = append(v.listing, strings.ToLower(p))
	}
	return v, nil
}

// Check returns whether rawURL is an eligible product page, and the reason
// when it is not.
//
// The detail-pattern check is global: a URL on any allowed domain passes if
// it contains any marketplace's detail fragment.
func (v *Validator) Check(rawURL string) (bool, string) {
	u := strings.ToLower(rawURL)
	if !containsAny(u, v.domains) {
		return false, ReasonDomain
	}
	if !containsAny(u, v.detail) {
		return false, ReasonDetail
	}
	if containsAny(u, v.listing) {
		return false, ReasonListing
	}
	return true, ""
}

// Valid reports whether rawURL passes Check.
func (v *Validator) Valid(rawURL string) bool {
	ok, _ := v.Check(rawURL)
	return ok
}

// Marketplace returns the display name of the first marketplace whose domain
// appears in rawURL, or "" when none does.
func (v *Validator) Marketplace(rawURL string) string {
	u := strings.ToLower(rawURL)
	for _, m := range v.markets {
		if containsAny(u, m.Domains) {
			return m.Name
		}
	}
	return ""
}

// Marketplaces returns a copy of the configured marketplaces.
func (v *Validator) Marketplaces() []Marketplace {
	out := make([]Marketplace, len(v.markets))
	copy(out, v.markets)
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
