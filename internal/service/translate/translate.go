package translate

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResult is returned when a backend answers without any text.
	ErrEmptyResult = errors.New("translation returned empty text")
	// ErrUnavailable is returned by backends that are not configured.
	ErrUnavailable = errors.New("translation backend unavailable")
)

// Translator converts text between languages and guesses the language of text.
// Language codes are the short frontend codes (en, hi, zh ...). An empty
// source language lets the backend auto-detect.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	DetectLanguage(ctx context.Context, text string) (string, error)
}

// Noop returns text unchanged. Used when no backend is configured so that every
// recipient still receives the original content.
type Noop struct{}

// Translate returns text as is.
func (Noop) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// DetectLanguage always fails; callers fall back to the sender's language.
func (Noop) DetectLanguage(context.Context, string) (string, error) {
	return "", ErrUnavailable
}
