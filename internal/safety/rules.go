package safety

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Interaction names a dangerous medication pair. A match fires when one
// drug is in the patient's current medications and the other appears in
// the text being checked.
type Interaction struct {
	First   string `yaml:"first"`
	Second  string `yaml:"second"`
	Warning string `yaml:"warning"`
}

// Rules holds the keyword and contraindication tables the safety engine
// evaluates against. All matching is lowercase substring matching.
type Rules struct {
	EmergencyKeywords []string `yaml:"emergencyKeywords"`
	EmergencyPhrases  []string `yaml:"emergencyPhrases"`

	PediatricWarnings []string `yaml:"pediatricWarnings"`
	ElderlyMarkers    []string `yaml:"elderlyMarkers"`

	Interactions []Interaction `yaml:"interactions"`

	// Keyed by patient condition, values are substances to warn about.
	ConditionContraindications map[string][]string `yaml:"conditionContraindications"`

	// Keyed by declared allergy, values are substances known to cross-react.
	AllergyCrossReactions map[string][]string `yaml:"allergyCrossReactions"`
}

// DefaultRules returns the built-in rule tables.
func DefaultRules() Rules {
	return Rules{
		EmergencyKeywords: []string{
			"chest pain", "heart attack", "stroke", "difficulty breathing",
			"severe bleeding", "unconscious", "seizure", "anaphylaxis",
			"severe allergic reaction", "overdose", "poisoning",
			"severe burns", "broken bone", "head injury", "severe pain",
			"cannot breathe", "choking", "cardiac arrest", "coma",
			"severe dehydration", "high fever in infant", "severe vomiting",
			"severe diarrhea", "blood in vomit", "blood in stool",
			"sudden vision loss", "sudden hearing loss", "paralysis",
			"severe abdominal pain", "appendicitis", "meningitis",
		},
		EmergencyPhrases: []string{
			"call 911", "emergency room", "immediate medical attention",
			"life threatening", "critical condition", "urgent care",
		},
		PediatricWarnings: []string{
			"aspirin", "ibuprofen under 6 months", "honey under 1 year",
			"adult dosage", "prescription medication without doctor",
		},
		ElderlyMarkers: []string{
			"kidney function", "liver function", "drug interactions",
		},
		Interactions: []Interaction{
			{First: "warfarin", Second: "aspirin", Warning: "Increased bleeding risk"},
			{First: "metformin", Second: "alcohol", Warning: "Risk of lactic acidosis"},
			{First: "lithium", Second: "nsaid", Warning: "Lithium toxicity risk"},
			{First: "digoxin", Second: "diuretic", Warning: "Electrolyte imbalance risk"},
		},
		ConditionContraindications: map[string][]string{
			"pregnancy":      {"aspirin", "ibuprofen", "alcohol", "smoking"},
			"hypertension":   {"nsaids", "decongestants", "high sodium"},
			"diabetes":       {"high sugar", "steroids", "certain antibiotics"},
			"kidney disease": {"nsaids", "certain antibiotics", "potassium"},
			"liver disease":  {"acetaminophen high dose", "alcohol", "certain herbs"},
		},
		AllergyCrossReactions: map[string][]string{
			"penicillin": {"amoxicillin", "ampicillin", "antibiotics"},
			"aspirin":    {"nsaids", "ibuprofen", "naproxen"},
			"sulfa":      {"sulfamethoxazole", "trimethoprim"},
			"latex":      {"rubber", "gloves"},
		},
	}
}

// LoadRules reads a YAML rules file and merges it over the defaults.
// Only sections present in the file replace the built-in tables, so an
// override file can adjust one table without restating the rest.
// An empty path returns the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("cannot read rules file: %w", err)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rules, fmt.Errorf("cannot parse rules file: %w", err)
	}

	if override.EmergencyKeywords != nil {
		rules.EmergencyKeywords = override.EmergencyKeywords
	}
	if override.EmergencyPhrases != nil {
		rules.EmergencyPhrases = override.EmergencyPhrases
	}
	if override.PediatricWarnings != nil {
		rules.PediatricWarnings = override.PediatricWarnings
	}
	if override.ElderlyMarkers != nil {
		rules.ElderlyMarkers = override.ElderlyMarkers
	}
	if override.Interactions != nil {
		rules.Interactions = override.Interactions
	}
	if override.ConditionContraindications != nil {
		rules.ConditionContraindications = override.ConditionContraindications
	}
	if override.AllergyCrossReactions != nil {
		rules.AllergyCrossReactions = override.AllergyCrossReactions
	}

	return rules, nil
}
