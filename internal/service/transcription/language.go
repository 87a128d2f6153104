package transcription

import "strings"

// DefaultLanguage is used when a hint is empty or unknown.
const DefaultLanguage = "en-IN"

// recognizerLanguages 把前端语言代码映射为识别服务使用的区域代码。
var recognizerLanguages = map[string]string{
	"hi": "hi-IN",
	"bn": "bn-BD",
	"te": "te-IN",
	"mr": "mr-IN",
	"ta": "ta-IN",
	"ur": "ur-IN",
	"gu": "gu-IN",
	"kn": "kn-IN",
	"ml": "ml-IN",
	"pa": "pa-IN",
	"or": "or-IN",
	"as": "as-IN",
	"sd": "sd-IN",
	"ne": "ne-NP",
	"en": "en-US",
	"es": "es-ES",
	"zh": "zh-CN",
	"fr": "fr-FR",
	"ar": "ar-XA",
	"pt": "pt-BR",
	"ru": "ru-RU",
	"de": "de-DE",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"it": "it-IT",
	"tr": "tr-TR",
	"vi": "vi-VN",
	"pl": "pl-PL",
	"uk": "uk-UA",
	"nl": "nl-NL",
	"sv": "sv-SE",
	"th": "th-TH",
	"el": "el-GR",
	"cs": "cs-CZ",
	"ro": "ro-RO",
	"hu": "hu-HU",
	"fi": "fi-FI",
	"da": "da-DK",
}

// ResolveLanguage turns a frontend hint into a recognizer locale. Full locales
// already present in the table pass through unchanged.
func ResolveLanguage(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return DefaultLanguage
	}
	if code, ok := recognizerLanguages[strings.ToLower(hint)]; ok {
		return code
	}
	for _, code := range recognizerLanguages {
		if strings.EqualFold(code, hint) {
			return code
		}
	}
	return DefaultLanguage
}
