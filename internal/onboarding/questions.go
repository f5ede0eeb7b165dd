package onboarding

import (
	"strings"

	"arogyabot/internal/domain"
)

// Question is one step of the profile intake flow. Parse validates the
// raw answer and returns the profile fields it sets, or a user-facing
// error message when the answer is rejected.
type Question struct {
	Field   string
	Text    string
	Options []string
	Parse   func(response string) (domain.ProfilePatch, string)
}

// Prompt renders the question text, appending the option list for
// choice questions.
func (q Question) Prompt() string {
	if len(q.Options) == 0 {
		return q.Text
	}
	var b strings.Builder
	b.WriteString(q.Text)
	b.WriteString("\n\nOptions:\n")
	for i, opt := range q.Options {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("• ")
		b.WriteString(opt)
	}
	return b.String()
}

// Questions returns the intake sequence in asking order. The first six
// fields are required for a complete profile, the three list questions
// accept "none".
func Questions() []Question {
	return []Question{
		{
			Field: "name",
			Text:  "What is your full name?",
			Parse: parseName,
		},
		{
			Field: "age",
			Text:  "What is your age? (Please enter a number between 1 and 120)",
			Parse: parseAge,
		},
		{
			Field:   "gender",
			Text:    "What is your gender?\nPlease type: male, female, or other",
			Options: []string{"male", "female", "other"},
			Parse:   parseGender,
		},
		{
			Field: "district",
			Text:  "Which district are you from? (e.g., Mumbai, Delhi, Bangalore)",
			Parse: parseDistrict,
		},
		{
			Field: "state",
			Text:  "Which state are you from? (e.g., Maharashtra, Delhi, Karnataka)",
			Parse: parseState,
		},
		{
			Field:   "medication_preference",
			Text:    "What type of medication do you prefer?\nPlease type: english, ayurvedic, or home_remedies",
			Options: []string{"english", "ayurvedic", "home_remedies"},
			Parse:   parsePreference,
		},
		{
			Field: "allergies",
			Text:  "Do you have any allergies? (Please list them separated by commas, or type 'none')\nExample: peanuts, shellfish, penicillin",
			Parse: func(response string) (domain.ProfilePatch, string) {
				items, errMsg := parseList(response)
				if errMsg != "" {
					return domain.ProfilePatch{}, errMsg
				}
				return domain.ProfilePatch{Allergies: items}, ""
			},
		},
		{
			Field: "existing_conditions",
			Text:  "Do you have any existing medical conditions? (Please list them separated by commas, or type 'none')\nExample: diabetes, hypertension, asthma",
			Parse: func(response string) (domain.ProfilePatch, string) {
				items, errMsg := parseList(response)
				if errMsg != "" {
					return domain.ProfilePatch{}, errMsg
				}
				return domain.ProfilePatch{ExistingConditions: items}, ""
			},
		},
		{
			Field: "current_medications",
			Text:  "Are you currently taking any medications? (Please list them separated by commas, or type 'none')\nExample: metformin, lisinopril, inhaler",
			Parse: func(response string) (domain.ProfilePatch, string) {
				items, errMsg := parseList(response)
				if errMsg != "" {
					return domain.ProfilePatch{}, errMsg
				}
				return domain.ProfilePatch{CurrentMedications: items}, ""
			},
		},
	}
}
