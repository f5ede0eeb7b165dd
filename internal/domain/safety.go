package domain

// SafetyVerdict is the structured result of the rule engine for one
// candidate response. It is never persisted.
type SafetyVerdict struct {
	HasEmergencySymptoms       bool
	RequiresImmediateAttention bool
	AgeAppropriate             bool
	Contraindications          []string
	WarningMessage             string

	// EmergencyKind selects the first-aid template when immediate
	// attention is required: chest_pain, breathing, bleeding or general.
	EmergencyKind string
}

// Flagged reports whether the verdict carries anything worth warning about.
// WarningMessage is non-empty exactly when this is true.
func (v *SafetyVerdict) Flagged() bool {
	return v.HasEmergencySymptoms || !v.AgeAppropriate || len(v.Contraindications) > 0
}
