package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxQueryRunes = 8192

// ParseFormat normalises a format tag. Leading dots and mixed case are
// accepted ("pdf", ".PDF", "Docx").
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	if !ValidFormats[f] {
		return "", NewValidationError("format", s, ErrUnsupportedFormat)
	}
	return f, nil
}

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return "", NewValidationError("format", path, ErrUnsupportedFormat)
	}
	return ParseFormat(path[i:])
}

// ValidateQuery checks a user query before it enters the inference pipeline.
func ValidateQuery(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewValidationError("query", text, ErrEmptyQuery)
	}
	if utf8.RuneCountInString(trimmed) > maxQueryRunes {
		return NewValidationError("query", trimmed[:32], ErrQueryTooLong)
	}
	return nil
}

// ValidateHistory checks caller-supplied conversation turns.
func ValidateHistory(turns []ConversationTurn) error {
	for i, turn := range turns {
		if !ValidRoles[turn.Role] {
			return NewValidationError(fmt.Sprintf("history[%d].role", i), turn.Role, ErrInvalidRole)
		}
		if strings.TrimSpace(turn.Content) == "" {
			return NewValidationError(fmt.Sprintf("history[%d].content", i), turn.Content, ErrEmptyTurn)
		}
	}
	return nil
}
