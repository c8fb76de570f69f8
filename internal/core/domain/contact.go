package domain

import "time"

// Gender values accepted by audience filters.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Age groups accepted by audience filters.
const (
	AgeGroup18To25 = "18-25"
	AgeGroup26To35 = "26-35"
	AgeGroup36To45 = "36-45"
	AgeGroup46Plus = "46+"
)

// Contact is an eligible, subscribed recipient as returned by the audience
// builder. Contacts that opted out or are under age never appear here.
type Contact struct {
	ID        int64
	TenantID  int64
	Phone     string
	Email     string
	FirstName string
	LastName  string
	Gender    string
	Birthday  *time.Time
}

// AudienceFilter selects campaign recipients. Either the demographic fields
// are used, or ListID references a legacy static contact list. Nil fields
// mean "no restriction".
type AudienceFilter struct {
	Gender     *string
	AgeGroup   *string
	NameSearch *string
	ListID     *int64
}

// Dynamic reports whether the filter is demographic rather than a static
// list reference.
func (f AudienceFilter) Dynamic() bool {
	return f.ListID == nil
}
