package guardrail

import "regexp"

// Redactor minimizes personal data in text destined for logs or the audit
// sink. It is applied only to the persisted copy, never to the copy used
// for matching.
type Redactor struct {
	maxLength int
	taxID     *regexp.Regexp
	email     *regexp.Regexp
	phone     *regexp.Regexp
}

const defaultMaxLogLength = 200

// NewRedactor builds a redactor with the given truncation length.
// A non-positive length falls back to the default of 200 characters.
func NewRedactor(maxLength int) *Redactor {
	if maxLength <= 0 {
		maxLength = defaultMaxLogLength
	}
	return &Redactor{
		maxLength: maxLength,
		// Tax-ID-like digit sequences, with or without separators.
		taxID: regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),
		email: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		phone: regexp.MustCompile(`\(?\d{2}\)?\s?\d{4,5}-?\d{4}\b`),
	}
}

// Redact masks recognizable identifiers and truncates to the configured
// bound. Truncation counts runes so multi-byte text is never cut mid
// character.
func (r *Redactor) Redact(text string) string {
	text = r.taxID.ReplaceAllString(text, "***.***.***-**")
	text = r.email.ReplaceAllString(text, "***@***.***")
	text = r.phone.ReplaceAllString(text, "(**) *****-****")

	if len(text) > r.maxLength {
		if runes := []rune(text); len(runes) > r.maxLength {
			text = string(runes[:r.maxLength]) + "..."
		}
	}
	return text
}
