package safety

import (
	"log/slog"
	"regexp"
	"strings"

	"arogyabot/internal/domain"
)

const disclaimer = "\n\n⚠️ This is AI guidance only. Please consult a doctor for confirmation."

var dosagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+\s*mg`),
	regexp.MustCompile(`\d+\s*ml`),
	regexp.MustCompile(`\d+\s*tablets?`),
	regexp.MustCompile(`\d+\s*times?\s*(daily|per day)`),
}

// Engine checks outgoing advice and incoming queries against the rule
// tables. Evaluation is deterministic and purely local, no network calls.
type Engine struct {
	rules  Rules
	logger *slog.Logger
}

func NewEngine(rules Rules, logger *slog.Logger) *Engine {
	return &Engine{rules: rules, logger: logger}
}

// Evaluate runs every rule table against text, using the profile for
// age, medication, condition and allergy context. A nil profile skips
// the profile-dependent checks. Never fails: if a rule table is
// malformed enough to panic, the degraded verdict below is returned.
func (e *Engine) Evaluate(text string, profile *domain.Profile) (verdict domain.SafetyVerdict) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("safety evaluation panicked, returning degraded verdict", "panic", r)
			verdict = domain.SafetyVerdict{
				AgeAppropriate: true,
				WarningMessage: "Unable to perform complete safety check",
			}
		}
	}()

	verdict.AgeAppropriate = true
	lower := strings.ToLower(text)

	if e.matchesAny(lower, e.rules.EmergencyKeywords) || e.matchesAny(lower, e.rules.EmergencyPhrases) {
		verdict.HasEmergencySymptoms = true
		verdict.RequiresImmediateAttention = true
		verdict.EmergencyKind = emergencyKind(lower)
	}

	if profile != nil {
		if profile.Age != nil {
			// Elderly advisories arrive with appropriate still true, so
			// the warnings are carried regardless of the flag.
			appropriate, warnings := e.checkAge(lower, *profile.Age)
			verdict.AgeAppropriate = appropriate
			verdict.Contraindications = append(verdict.Contraindications, warnings...)
		}
		verdict.Contraindications = append(verdict.Contraindications, e.checkInteractions(lower, profile.CurrentMedications)...)
		verdict.Contraindications = append(verdict.Contraindications, e.checkConditions(lower, profile.ExistingConditions)...)
		verdict.Contraindications = append(verdict.Contraindications, e.checkAllergies(lower, profile.Allergies)...)
	}

	var parts []string
	if verdict.HasEmergencySymptoms {
		parts = append(parts, "🚨 EMERGENCY: Seek immediate medical attention")
	}
	if !verdict.AgeAppropriate {
		parts = append(parts, "⚠️ Age-specific precautions apply")
	}
	if len(verdict.Contraindications) > 0 {
		parts = append(parts, "⚠️ Medical contraindications detected")
	}
	if len(parts) > 0 {
		verdict.WarningMessage = strings.Join(parts, " | ")
	}

	if verdict.Flagged() {
		e.logger.Info("safety check flagged advice",
			"emergency", verdict.HasEmergencySymptoms,
			"contraindications", len(verdict.Contraindications),
		)
	}
	return verdict
}

// emergencyKind buckets a flagged text into a first-aid template
// category for EmergencyResponse.
func emergencyKind(lower string) string {
	switch {
	case strings.Contains(lower, "chest pain") || strings.Contains(lower, "heart attack") ||
		strings.Contains(lower, "cardiac arrest"):
		return "chest_pain"
	case strings.Contains(lower, "breath") || strings.Contains(lower, "choking"):
		return "breathing"
	case strings.Contains(lower, "bleeding"):
		return "bleeding"
	default:
		return "general"
	}
}

func (e *Engine) matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (e *Engine) checkAge(lower string, age int) (bool, []string) {
	appropriate := true
	var warnings []string

	if age < 18 {
		if e.matchesAny(lower, e.rules.PediatricWarnings) {
			appropriate = false
			warnings = append(warnings, "Pediatric medication precautions apply")
		}
		if age < 2 && (strings.Contains(lower, "adult dose") || strings.Contains(lower, "standard dose")) {
			appropriate = false
			warnings = append(warnings, "Infant dosing requires pediatric consultation")
		}
		if age < 12 && strings.Contains(lower, "aspirin") {
			appropriate = false
			warnings = append(warnings, "Aspirin not recommended for children under 12")
		}
	} else if age > 65 {
		// Advisory only, does not mark the advice age-inappropriate.
		if e.matchesAny(lower, e.rules.ElderlyMarkers) {
			warnings = append(warnings, "Elderly patients require special consideration")
		}
	}

	return appropriate, warnings
}

func (e *Engine) checkInteractions(lower string, currentMeds []string) []string {
	var out []string

	meds := make(map[string]bool, len(currentMeds))
	for _, m := range currentMeds {
		meds[strings.ToLower(m)] = true
	}

	for _, ix := range e.rules.Interactions {
		if (meds[ix.First] && strings.Contains(lower, ix.Second)) ||
			(meds[ix.Second] && strings.Contains(lower, ix.First)) {
			out = append(out, "Interaction warning: "+ix.Warning)
		}
	}

	if len(currentMeds) > 0 {
		for _, generic := range []string{"medication", "drug", "pill"} {
			if strings.Contains(lower, generic) {
				out = append(out, "Check with doctor before adding new medications")
				break
			}
		}
	}
	return out
}

func (e *Engine) checkConditions(lower string, conditions []string) []string {
	var out []string
	for _, condition := range conditions {
		items, ok := e.rules.ConditionContraindications[strings.ToLower(condition)]
		if !ok {
			continue
		}
		for _, item := range items {
			if strings.Contains(lower, item) {
				out = append(out, "Caution: "+item+" may not be suitable for "+condition)
			}
		}
	}
	return out
}

func (e *Engine) checkAllergies(lower string, allergies []string) []string {
	var out []string
	for _, allergy := range allergies {
		allergyLower := strings.ToLower(allergy)
		if strings.Contains(lower, allergyLower) {
			out = append(out, "ALLERGY ALERT: Patient allergic to "+allergy)
		}
		for _, related := range e.rules.AllergyCrossReactions[allergyLower] {
			if strings.Contains(lower, related) {
				out = append(out, "CAUTION: "+related+" may cross-react with "+allergy+" allergy")
			}
		}
	}
	return out
}

// ApplyDisclaimer appends the standard medical disclaimer unless the
// text already carries one.
func ApplyDisclaimer(text string) string {
	if strings.Contains(text, "AI guidance only") || strings.Contains(text, "consult a doctor") {
		return text
	}
	return text + disclaimer
}

// EmergencyResponse returns first-aid guidance for the given emergency
// category. Unknown categories fall back to the general template.
func EmergencyResponse(kind string) string {
	switch kind {
	case "chest_pain":
		return "🚨 EMERGENCY - CHEST PAIN\n" +
			"Call emergency services immediately (112/108 in India, 911 in US)\n" +
			"- Chew aspirin if not allergic\n" +
			"- Sit upright, loosen tight clothing\n" +
			"- Stay calm, help is coming"
	case "breathing":
		return "🚨 EMERGENCY - BREATHING DIFFICULTY\n" +
			"Call emergency services immediately (112/108)\n" +
			"- Sit upright, lean forward slightly\n" +
			"- Remove tight clothing\n" +
			"- If using inhaler, use as prescribed"
	case "bleeding":
		return "🚨 EMERGENCY - SEVERE BLEEDING\n" +
			"Call emergency services immediately (112/108)\n" +
			"- Apply direct pressure to wound\n" +
			"- Elevate injured area if possible\n" +
			"- Do not remove embedded objects"
	default:
		return "🚨 EMERGENCY SITUATION DETECTED\n" +
			"Call emergency services immediately:\n" +
			"- India: 112 (National Emergency) or 108 (Ambulance)\n" +
			"- US: 911\n" +
			"- Stay calm and follow dispatcher instructions"
	}
}

// DosageWarnings scans text for dosage patterns (mg, ml, tablet counts,
// frequency) and returns age-banded verification warnings.
func DosageWarnings(text string, age *int) []string {
	lower := strings.ToLower(text)
	found := false
	for _, p := range dosagePatterns {
		if p.MatchString(lower) {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	switch {
	case age != nil && *age < 18:
		return []string{"Pediatric dosing requires medical supervision"}
	case age != nil && *age > 65:
		return []string{"Elderly patients may require dose adjustment"}
	default:
		return []string{"Verify dosage with healthcare provider"}
	}
}
