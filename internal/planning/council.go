package planning

import (
	"fmt"
	"net/url"
	"strings"
)

// Council describes one configured planning authority.
type Council struct {
	ID                 string
	Name               string
	Portal             string
	BaseURL            string
	Enabled            bool
	RatePerSecond      float64
	Burst              int
	LimiterGroup       string
	LookbackDays       int
	MaxPages           int
	OrganisationEntity string
}

// LimiterKey names the rate-limit bucket shared by every request to this
// council. Councils on the same hosted platform can share one via LimiterGroup.
func (c Council) LimiterKey() string {
	if c.LimiterGroup != "" {
		return c.LimiterGroup
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return c.ID
	}
	return strings.ToLower(u.Hostname())
}

// ResolveURL resolves ref against the council base URL.
func (c Council) ResolveURL(ref string) (string, error) {
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	return base.ResolveReference(rel).String(), nil
}

// CouncilTask is one unit of work handed to an orchestrator worker.
type CouncilTask struct {
	Council Council
	Window  Window
}
