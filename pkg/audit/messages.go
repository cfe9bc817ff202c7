package audit

import (
	"golang.org/x/text/language"

	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

// descriptions are used as wrong_items when an issue holds but the model
// supplied no item text for it, and for system-generated failures.
var descriptions = map[language.Tag]map[Code]string{
	language.English: {
		CodeWC:  "item in the wrong category",
		CodeUI:  "image too unclear to judge",
		CodeHC:  "heavy contamination",
		CodeLC:  "light contamination",
		CodeNCM: "missing material",
		CodePE:  "audit result could not be read",
		CodeIE:  "evidence image could not be loaded",
	},
	language.Korean: {
		CodeWC:  "분류가 잘못된 품목",
		CodeUI:  "판별이 어려운 사진",
		CodeHC:  "심한 오염",
		CodeLC:  "경미한 오염",
		CodeNCM: "누락된 품목",
		CodePE:  "판정 결과를 읽을 수 없음",
		CodeIE:  "증빙 사진을 불러올 수 없음",
	},
	language.Japanese: {
		CodeWC:  "分別違いの品目",
		CodeUI:  "判定できない不鮮明な画像",
		CodeHC:  "ひどい汚れ",
		CodeLC:  "軽い汚れ",
		CodeNCM: "不足している品目",
		CodePE:  "判定結果を読み取れません",
		CodeIE:  "証拠画像を読み込めません",
	},
}

// Describe returns the localized description of code.
func Describe(code Code, lang string) string {
	if d, ok := descriptions[materials.Locale(lang)][code]; ok {
		return d
	}
	return descriptions[language.English][code]
}
