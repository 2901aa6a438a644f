package utils

import (
	"sync"

	"github.com/pemistahl/lingua-go"
)

var (
	detectorOnce    sync.Once
	defaultDetector lingua.LanguageDetector
)

// NewLanguageDetector builds a detector over the given languages, or all
// supported languages when none are given.
func NewLanguageDetector(languages ...lingua.Language) lingua.LanguageDetector {
	builder := lingua.NewLanguageDetectorBuilder()
	if len(languages) == 0 {
		return builder.FromAllLanguages().Build()
	}
	return builder.FromLanguages(languages...).Build()
}

// DetectLanguage names the language of text, or "" when undetermined.
func DetectLanguage(text string) string {
	detectorOnce.Do(func() {
		defaultDetector = NewLanguageDetector()
	})
	return detectWith(defaultDetector, text)
}

func detectWith(detector lingua.LanguageDetector, text string) string {
	language, ok := detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return language.String()
}
