package main

import (
	"regexp"
	"strings"
)

const caseInsensitiveMarker = "(?i)"

// matchAnswer evaluates a submitted answer against a challenge's answer spec.
// Input is trimmed first. Exact specs compare case-insensitively; regex specs
// honor an inline "(?i)" marker prefix or an "i" in the flags field. A pattern
// that fails to compile is treated as a non-match.
func matchAnswer(spec *AnswerSpec, input string) bool {
	if spec == nil {
		return false
	}

	input = strings.TrimSpace(input)

	switch spec.Type {
	case "exact":
		return strings.EqualFold(input, strings.TrimSpace(spec.Value))
	case "regex":
		pattern := spec.Value
		insensitive := strings.Contains(spec.Flags, "i")

		if strings.HasPrefix(pattern, caseInsensitiveMarker) {
			pattern = strings.TrimPrefix(pattern, caseInsensitiveMarker)
			insensitive = true
		}

		if insensitive {
			pattern = caseInsensitiveMarker + pattern
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}

		return re.MatchString(input)
	default:
		return false
	}
}
