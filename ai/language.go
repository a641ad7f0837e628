package ai

import (
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

const (
	minDetectableLength = 12
	minConfidence       = 0.5
)

// DetectLanguage names the language of text in English, e.g. "French".
// It returns an empty string when the text is too short or the guess is weak.
func DetectLanguage(text string) string {
	if utf8.RuneCountInString(text) < minDetectableLength {
		return ""
	}
	info := whatlanggo.Detect(text)
	if info.Confidence < minConfidence {
		return ""
	}
	return info.Lang.String()
}
