package domain

import "time"

// Gender is the fixed answer set for the gender intake question.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// MedicationPreference is the fixed answer set for the preference question.
type MedicationPreference string

const (
	PreferenceEnglish      MedicationPreference = "english"
	PreferenceAyurvedic    MedicationPreference = "ayurvedic"
	PreferenceHomeRemedies MedicationPreference = "home_remedies"
)

// Profile is the durable per-identity intake record. Required fields are
// pointers so an unanswered field is distinguishable from a zero value.
type Profile struct {
	Identity           string
	Name               *string
	Age                *int
	Gender             *Gender
	District           *string
	State              *string
	Preference         *MedicationPreference
	Allergies          []string
	ExistingConditions []string
	CurrentMedications []string
	IsComplete         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasRequiredFields reports whether every required intake field is answered.
// IsComplete is only ever derived from this, never set directly.
func (p *Profile) HasRequiredFields() bool {
	return p.Name != nil && p.Age != nil && p.Gender != nil &&
		p.District != nil && p.State != nil && p.Preference != nil
}

// ProfilePatch carries a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	Name               *string
	Age                *int
	Gender             *Gender
	District           *string
	State              *string
	Preference         *MedicationPreference
	Allergies          []string
	ExistingConditions []string
	CurrentMedications []string
}

// OnboardingSession is the durable cursor into the intake question list.
// At most one exists per identity, and only while the profile is incomplete.
type OnboardingSession struct {
	Identity        string
	Step            int
	CompletedFields []string
	StartedAt       time.Time
}

// ChatRecord is one append-only entry in the per-identity conversation log.
type ChatRecord struct {
	ID           int64
	Identity     string
	SessionToken string
	ContentKind  ContentKind
	RequestText  string
	ResponseText string
	Language     string
	CreatedAt    time.Time
}
