package planning

import "strings"

// StatusClass is a coarse grouping of the free-text status strings councils use.
type StatusClass string

// Status classes.
const (
	StatusPending   StatusClass = "pending"
	StatusApproved  StatusClass = "approved"
	StatusRefused   StatusClass = "refused"
	StatusWithdrawn StatusClass = "withdrawn"
	StatusOther     StatusClass = "other"
)

var statusKeywords = []struct {
	class    StatusClass
	keywords []string
}{
	{StatusRefused, []string{"refus", "reject", "dismissed"}},
	{StatusWithdrawn, []string{"withdraw"}},
	{StatusApproved, []string{"approv", "grant", "permit", "consent given", "allowed"}},
	{StatusPending, []string{
		"pending", "registered", "valid", "under consideration", "awaiting",
		"received", "consultation", "in progress", "current",
	}},
}

// ClassifyStatus maps a raw status to a class, case-insensitively. The raw
// value is what gets persisted; the class is only used for reporting.
func ClassifyStatus(raw string) StatusClass {
	s := strings.ToLower(raw)
	if strings.TrimSpace(s) == "" {
		return StatusOther
	}
	for _, group := range statusKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(s, kw) {
				return group.class
			}
		}
	}
	return StatusOther
}
