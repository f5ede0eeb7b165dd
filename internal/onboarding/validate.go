package onboarding

import (
	"strconv"
	"strings"
	"unicode"

	"arogyabot/internal/domain"
)

func parseName(response string) (domain.ProfilePatch, string) {
	name := strings.TrimSpace(response)
	if len(name) < 2 {
		return domain.ProfilePatch{}, "Please enter a valid name (at least 2 characters)."
	}
	for _, r := range name {
		if unicode.IsDigit(r) {
			return domain.ProfilePatch{}, "Name should not contain numbers."
		}
	}
	return domain.ProfilePatch{Name: &name}, ""
}

func parseAge(response string) (domain.ProfilePatch, string) {
	age, err := strconv.Atoi(strings.TrimSpace(response))
	if err != nil {
		return domain.ProfilePatch{}, "Please enter a valid number for age."
	}
	if age < 1 || age > 120 {
		return domain.ProfilePatch{}, "Please enter an age between 1 and 120."
	}
	return domain.ProfilePatch{Age: &age}, ""
}

func parseGender(response string) (domain.ProfilePatch, string) {
	switch g := domain.Gender(strings.ToLower(strings.TrimSpace(response))); g {
	case domain.GenderMale, domain.GenderFemale, domain.GenderOther:
		return domain.ProfilePatch{Gender: &g}, ""
	default:
		return domain.ProfilePatch{}, "Please choose: male, female, or other"
	}
}

func parsePreference(response string) (domain.ProfilePatch, string) {
	switch p := domain.MedicationPreference(strings.ToLower(strings.TrimSpace(response))); p {
	case domain.PreferenceEnglish, domain.PreferenceAyurvedic, domain.PreferenceHomeRemedies:
		return domain.ProfilePatch{Preference: &p}, ""
	default:
		return domain.ProfilePatch{}, "Please choose: english, ayurvedic, or home_remedies"
	}
}

func parseDistrict(response string) (domain.ProfilePatch, string) {
	district := strings.TrimSpace(response)
	if len(district) < 2 {
		return domain.ProfilePatch{}, "Please enter a valid district name."
	}
	return domain.ProfilePatch{District: &district}, ""
}

func parseState(response string) (domain.ProfilePatch, string) {
	state := strings.TrimSpace(response)
	if len(state) < 2 {
		return domain.ProfilePatch{}, "Please enter a valid state name."
	}
	return domain.ProfilePatch{State: &state}, ""
}

// parseList accepts "none" for an empty list, otherwise splits on
// commas. Every non-empty item must be at least 2 characters. Always
// returns a non-nil slice on success so the store records the answer.
func parseList(response string) ([]string, string) {
	response = strings.TrimSpace(response)
	if strings.EqualFold(response, "none") {
		return []string{}, ""
	}

	items := make([]string, 0, 4)
	for _, raw := range strings.Split(response, ",") {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		if len(item) < 2 {
			return nil, "Please enter valid items separated by commas."
		}
		items = append(items, item)
	}
	return items, ""
}
