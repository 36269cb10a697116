// Package placeholder validates and renders %token% substitutions in
// notification text.
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zulandar/signalbox/internal/identity"
)

// UserName is replaced with the recipient's display name.
const UserName = "%user_name%"

var tokenPattern = regexp.MustCompile(`%\w+%`)

var recognized = map[string]bool{
	UserName: true,
}

// ErrInvalidPlaceholder matches any *InvalidPlaceholderError via errors.Is.
var ErrInvalidPlaceholder = errors.New("placeholder: invalid placeholder")

// InvalidPlaceholderError lists unrecognized tokens in order of first
// appearance, without duplicates.
type InvalidPlaceholderError struct {
	Tokens []string
}

func (e *InvalidPlaceholderError) Error() string {
	return fmt.Sprintf("placeholder: invalid placeholders: %s", strings.Join(e.Tokens, ", "))
}

// Is reports true for ErrInvalidPlaceholder.
func (e *InvalidPlaceholderError) Is(target error) bool {
	return target == ErrInvalidPlaceholder
}

// Tokens returns every %token% occurrence in text, in order.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

// Validate returns an *InvalidPlaceholderError naming every unrecognized
// token in text, or nil.
func Validate(text string) error {
	var bad []string
	seen := make(map[string]bool)
	for _, tok := range Tokens(text) {
		if recognized[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		bad = append(bad, tok)
	}
	if len(bad) == 0 {
		return nil
	}
	return &InvalidPlaceholderError{Tokens: bad}
}

// FieldSource supplies per-user display values.
type FieldSource interface {
	DisplayFields(ctx context.Context, userUUID string) (identity.Fields, error)
}

// Resolver renders recognized tokens from a FieldSource.
type Resolver struct {
	source FieldSource
}

// NewResolver returns a Resolver reading from source.
func NewResolver(source FieldSource) *Resolver {
	return &Resolver{source: source}
}

// Render substitutes every recognized token in text for userUUID. Text
// without tokens is returned unchanged and the source is not queried. On
// error the returned text is always empty.
func (r *Resolver) Render(ctx context.Context, userUUID, text string) (string, error) {
	if !tokenPattern.MatchString(text) {
		return text, nil
	}
	if err := Validate(text); err != nil {
		return "", err
	}

	fields, err := r.source.DisplayFields(ctx, userUUID)
	if err != nil {
		return "", fmt.Errorf("placeholder: render for %s: %w", userUUID, err)
	}

	values := map[string]string{
		UserName: fields.Name,
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		return values[tok]
	}), nil
}
