package materials

import (
	"strings"

	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.English, // first entry is the fallback
	language.Korean,
	language.Japanese,
}

var matcher = language.NewMatcher(supported)

var labels = map[language.Tag]map[Key]string{
	language.English: {
		General:    "general waste",
		Organic:    "food waste",
		Recyclable: "recyclables",
		Hazardous:  "hazardous waste",
		Unknown:    "undetermined",
	},
	language.Korean: {
		General:    "일반쓰레기",
		Organic:    "음식물쓰레기",
		Recyclable: "재활용",
		Hazardous:  "유해폐기물",
		Unknown:    "판별불가",
	},
	language.Japanese: {
		General:    "一般ごみ",
		Organic:    "生ごみ",
		Recyclable: "資源ごみ",
		Hazardous:  "有害ごみ",
		Unknown:    "判定不能",
	},
}

var separators = map[language.Tag]string{
	language.English:  ", ",
	language.Korean:   ", ",
	language.Japanese: "、",
}

// Locale resolves a BCP 47 language string against the supported label
// languages. Empty or unsupported input resolves to English.
func Locale(lang string) language.Tag {
	if lang == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Label returns the human label for key in lang.
func Label(key Key, lang string) string {
	if l, ok := labels[Locale(lang)][key]; ok {
		return l
	}
	return labels[language.English][Unknown]
}

// Join joins items with the separator conventional for lang.
func Join(items []string, lang string) string {
	return strings.Join(items, separators[Locale(lang)])
}

// keyForLabel finds the key whose label in any supported language equals s.
func keyForLabel(s string) (Key, bool) {
	for _, tag := range supported {
		for k, l := range labels[tag] {
			if k != Unknown && strings.EqualFold(l, s) {
				return k, true
			}
		}
	}
	return Unknown, false
}
