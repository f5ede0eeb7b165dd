package handler

import "strings"

type cannedResponse struct {
	// match returns true when the lower-cased query hits this entry.
	match func(lower string) bool
	text  string
}

func containsAny(lower string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// First-match-wins, checked in this order before the generated path.
var cannedResponses = []cannedResponse{
	{
		match: func(l string) bool { return strings.Contains(l, "headache") },
		text: `🤕 **Headache Relief:**

**Immediate steps:**
• Rest in a quiet, dark room
• Apply cold or warm compress to head/neck
• Stay hydrated - drink water
• Consider over-the-counter pain relievers (if no allergies)

**When to see a doctor:**
• Sudden, severe headache
• Headache with fever, stiff neck, confusion
• Headaches that worsen or become frequent

⚠️ This is general guidance. Consult a doctor for persistent or severe symptoms.`,
	},
	{
		match: func(l string) bool { return strings.Contains(l, "fever") },
		text: `🌡️ **Fever Management:**

**Immediate steps:**
• Rest and stay hydrated
• Use fever-reducing medication (acetaminophen/ibuprofen)
• Cool compress on forehead
• Wear light clothing

**When to seek immediate care:**
• Fever above 103°F (39.4°C)
• Fever with severe symptoms (difficulty breathing, chest pain)
• Fever lasting more than 3 days

⚠️ This is general guidance. Consult a doctor for high or persistent fever.`,
	},
	{
		match: func(l string) bool { return containsAny(l, "cold", "cough") },
		text: `🤧 **Cold & Cough Relief:**

**Home remedies:**
• Rest and plenty of fluids
• Warm salt water gargle
• Honey and warm water for cough
• Humidifier or steam inhalation

**When to see a doctor:**
• Symptoms worsen after 7-10 days
• High fever or difficulty breathing
• Severe throat pain or green mucus

⚠️ This is general guidance. Consult a doctor for worsening symptoms.`,
	},
	{
		match: func(l string) bool { return containsAny(l, "stomach", "nausea", "vomit") },
		text: `🤢 **Stomach Issues:**

**Home remedies:**
• Stay hydrated with clear fluids
• BRAT diet (Bananas, Rice, Applesauce, Toast)
• Avoid dairy and spicy foods
• Rest and avoid solid foods initially

**When to seek care:**
• Severe dehydration
• Blood in vomit or stool
• High fever with stomach pain
• Symptoms persist over 2 days

⚠️ This is general guidance. Seek immediate care for severe symptoms.`,
	},
	{
		match: func(l string) bool {
			return containsAny(l, "pain", "hurt", "ache") && !strings.Contains(l, "headache")
		},
		text: `😣 **Pain Management:**

**General pain relief:**
• Rest the affected area
• Apply ice for acute injuries (first 24-48 hours)
• Apply heat for muscle tension
• Over-the-counter pain relievers (if appropriate)

**When to see a doctor:**
• Severe or worsening pain
• Pain after injury
• Pain with swelling, redness, or fever
• Pain affecting daily activities

⚠️ This is general guidance. Consult a healthcare provider for persistent pain.`,
	},
}

// CannedResponse returns the fixed guidance block for common symptom
// queries, or "" when the query should go to the generated path.
func CannedResponse(englishQuery string) string {
	lower := strings.ToLower(englishQuery)
	for _, c := range cannedResponses {
		if c.match(lower) {
			return c.text
		}
	}
	return ""
}
