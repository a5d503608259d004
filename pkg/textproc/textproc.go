// Package textproc provides the text-analysis routines used by the worker:
// word counting, deterministic language detection, and text normalization.
package textproc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

// ErrLangDetect marks a language-detection failure. Reprocessing the same
// input yields the same failure.
var ErrLangDetect = errors.New("lang detect")

// Runes outside this class are stripped by CleanText. The quotation marks are
// U+201C and U+201D.
var notAllowedRe = regexp.MustCompile(`[^-\p{L}\p{N}_\s:(),.!?“”']`)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// CountWords counts whitespace-separated tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// DetectLanguage returns the two-letter lowercase ISO 639-1 code of the
// dominant language. The detector is deterministic: identical input yields
// identical output.
func DetectLanguage(text string) (string, error) {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})

	lang, ok := detector.DetectLanguageOf(text)
	if !ok {
		return "", fmt.Errorf("%w: unable to detect language", ErrLangDetect)
	}

	code := strings.ToLower(lang.IsoCode639_1().String())
	if !isTwoLetterAlpha(code) {
		return "", fmt.Errorf("%w: unexpected detect result %q", ErrLangDetect, code)
	}
	return code, nil
}

// CleanText removes every rune outside the allowed character class. It is
// idempotent.
func CleanText(text string) string {
	return notAllowedRe.ReplaceAllString(text, "")
}

func isTwoLetterAlpha(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
