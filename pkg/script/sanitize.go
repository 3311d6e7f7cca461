package script

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxPayloadSize bounds any single text, value, label or xml field.
	DefaultMaxPayloadSize = 64 * 1024
	// EnvMaxPayloadSize overrides DefaultMaxPayloadSize.
	EnvMaxPayloadSize = "MARGINALIA_MAX_PAYLOAD_SIZE"
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum allowed size")
	ErrInvalidUTF8     = errors.New("payload contains invalid UTF-8 sequences")
)

// Sanitize enforces the payload size limit and UTF-8 validity on every string
// field of the step, and strips control characters XML 1.0 cannot carry.
// Errors wrap ErrInvalidScript.
func (s *Step) Sanitize() error {
	limit := maxPayloadSize()
	for _, f := range []struct {
		name string
		ptr  *string
	}{
		{"xml", &s.XML},
		{"value", &s.Value},
		{"text", &s.Text},
		{"label", &s.Label},
	} {
		clean, err := sanitizePayload(*f.ptr, limit)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidScript, f.name, err)
		}
		*f.ptr = clean
	}
	return nil
}

func sanitizePayload(input string, limit int) (string, error) {
	if len(input) > limit {
		// Reject rather than truncate; a truncated payload would be a different change.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrPayloadTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func maxPayloadSize() int {
	if val := os.Getenv(EnvMaxPayloadSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxPayloadSize
}
