package webhook

import (
	"regexp"
	"strings"
)

// Max length for a user-supplied payment-code pattern.
const maxUserPatternLength = 200

// builtinCodePattern matches the built-in payment-code shape,
// e.g. "MM4F7B2C91" inside "Thanh toan MM4F7B2C91".
var builtinCodePattern = regexp.MustCompile(`(?i)\b(MM[A-Z0-9]{6,12})\b`)

// Pattern shapes known to trigger catastrophic backtracking in
// backtracking engines. Go's regexp does not backtrack, but patterns
// may be stored and evaluated elsewhere too, so they are rejected at
// the door rather than compiled.
var unsafePatternShapes = []*regexp.Regexp{
	regexp.MustCompile(`\(\.[*+?]?\)[*+?]`),
	regexp.MustCompile(`\([^)]*[*+?][^)]*\)[*+?]`),
	regexp.MustCompile(`\[.*\]\+`),
}

// SafeUserPattern validates and compiles a user-supplied payment-code
// pattern. It returns nil for an empty, overlong, dangerous or invalid
// pattern; the caller then falls back to the built-in extractor. A bad
// pattern is never a hard error visible to the end user.
func SafeUserPattern(pattern string) *regexp.Regexp {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) > maxUserPatternLength {
		trimmed = trimmed[:maxUserPatternLength]
	}
	for _, shape := range unsafePatternShapes {
		if shape.MatchString(trimmed) {
			return nil
		}
	}
	re, err := regexp.Compile("(?i)" + trimmed)
	if err != nil {
		return nil
	}
	return re
}

// ExtractPaymentCode pulls the built-in payment-code shape out of a
// transaction note, uppercased. Empty when no code is present.
func ExtractPaymentCode(note string) string {
	match := builtinCodePattern.FindStringSubmatch(note)
	if match == nil {
		return ""
	}
	return strings.ToUpper(match[1])
}
