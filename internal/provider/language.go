package provider

// languages the bot will translate to and from. Anything else is
// treated as English.
var supportedLanguages = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"ta": "Tamil",
	"te": "Telugu",
	"bn": "Bengali",
	"gu": "Gujarati",
	"kn": "Kannada",
	"ml": "Malayalam",
	"mr": "Marathi",
	"pa": "Punjabi",
	"or": "Odia",
	"as": "Assamese",
	"ur": "Urdu",
}

func IsSupportedLanguage(code string) bool {
	_, ok := supportedLanguages[code]
	return ok
}

// LanguageName returns the English name for a supported language code,
// or "" when the code is unknown.
func LanguageName(code string) string {
	return supportedLanguages[code]
}
