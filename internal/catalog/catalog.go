// Package catalog exposes the static enumeration lists UI clients consume.
// The lists are fixed contracts: named sequences of {label, value} pairs,
// some ranked. Option visibility is gated by caller user type and is
// monotonic: an agency caller sees every option a public caller sees.
package catalog

// Option is one selectable enumeration entry.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Rank  *int   `json:"rank,omitempty"`
}

type option struct {
	Option
	agencyOnly bool
}

// User types recognized by the gate.
const (
	UserTypePublic = "public"
	UserTypeAgency = "agency"
)

func rank(n int) *int { return &n }

var enumerations = map[string][]option{
	"user-types": {
		{Option: Option{Label: "Public", Value: UserTypePublic}},
		{Option: Option{Label: "Agency", Value: UserTypeAgency}},
	},
	"record-statuses": {
		{Option: Option{Label: "Active", Value: "active"}},
		{Option: Option{Label: "Pending Review", Value: "pending_review"}},
		{Option: Option{Label: "Closed", Value: "closed"}},
		{Option: Option{Label: "Expired", Value: "expired"}},
	},
	"transaction-statuses": {
		{Option: Option{Label: "Draft", Value: "draft"}},
		{Option: Option{Label: "Submitted", Value: "submitted"}},
		{Option: Option{Label: "Under Review", Value: "review"}},
		{Option: Option{Label: "Completed", Value: "completed"}},
	},
	"profile-access-levels": {
		{Option: Option{Label: "Reader", Value: "reader", Rank: rank(1)}},
		{Option: Option{Label: "Writer", Value: "writer", Rank: rank(2)}},
		{Option: Option{Label: "Admin", Value: "admin", Rank: rank(3)}},
		{Option: Option{Label: "Agency Reviewer", Value: "agency-reviewer", Rank: rank(4)}, agencyOnly: true},
	},
}

// Names lists the available enumeration names.
func Names() []string {
	names := make([]string, 0, len(enumerations))
	for n := range enumerations {
		names = append(names, n)
	}
	return names
}

// Lookup returns the options of the named enumeration visible to userType.
// Unknown names return ok=false.
func Lookup(name, userType string) ([]Option, bool) {
	opts, ok := enumerations[name]
	if !ok {
		return nil, false
	}
	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		if o.agencyOnly && userType != UserTypeAgency {
			continue
		}
		out = append(out, o.Option)
	}
	return out, true
}
