package genclient

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"rankforge/internal/llm"
)

// maxFreeTextLines caps line-based recovery so a pathological prose response
// cannot flood the caller with junk items
const maxFreeTextLines = 100

var (
	codeFenceRegex    = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")
	numberedLineRegex = regexp.MustCompile(`^\s*\d+\s*[.):]\s*`)
	bulletPrefixes    = []string{"- ", "* ", "• "}
)

// RecoverList recovers a string list from a free-text model response.
// Tried in order: JSON array (tolerating markdown fences and truncated
// output), numbered-list lines, then one item per line. Failure to recover
// anything is a malformed-output error, so the retry loop treats it like any
// other bad response shape.
func RecoverList(text string) ([]string, error) {
	// A blank response is empty, not malformed; the client's empty-response
	// handling owns it.
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if jsonStr := extractArray(text); jsonStr != "" {
		var items []string
		if err := json.Unmarshal([]byte(jsonStr), &items); err == nil {
			if cleaned := cleanItems(items); len(cleaned) > 0 {
				return cleaned, nil
			}
		}
	}

	lines := strings.Split(text, "\n")

	// A response with two or more numbered lines is a numbered list; only the
	// numbered lines are items, everything else is commentary.
	var numbered []string
	for _, line := range lines {
		if numberedLineRegex.MatchString(line) {
			numbered = append(numbered, numberedLineRegex.ReplaceAllString(line, ""))
		}
	}
	if len(numbered) >= 2 {
		if cleaned := cleanItems(numbered); len(cleaned) > 0 {
			return cleaned, nil
		}
	}

	var plain []string
	for _, line := range lines {
		if len(plain) >= maxFreeTextLines {
			break
		}
		line = strings.TrimSpace(line)
		for _, prefix := range bulletPrefixes {
			line = strings.TrimPrefix(line, prefix)
		}
		line = strings.TrimSpace(line)
		// A line with no word characters is markup or a stray bullet, not an item
		if line != "" && hasWordRune(line) {
			plain = append(plain, line)
		}
	}
	if cleaned := cleanItems(plain); len(cleaned) > 0 {
		return cleaned, nil
	}

	return nil, llm.Malformed("no items recoverable from free-text response", nil)
}

// extractArray pulls a JSON array out of text, unwrapping a markdown code
// fence if present. A truncated array with at least one complete string is
// closed rather than discarded. Returns "" when no array is found.
func extractArray(text string) string {
	if matches := codeFenceRegex.FindStringSubmatch(text); len(matches) > 1 {
		text = strings.TrimSpace(matches[1])
	} else {
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "[")
	if start == -1 {
		return ""
	}
	if end := matchingBracket(text, start); end != -1 {
		return text[start : end+1]
	}

	// Truncated array: close it after the last complete string value. The
	// final quote may open a partial string, so walk backwards until a
	// candidate actually parses.
	lastQuote := strings.LastIndex(text, "\"")
	for lastQuote > start {
		candidate := strings.TrimRight(text[start:lastQuote+1], " \n\t,") + "]"
		var probe []string
		if json.Unmarshal([]byte(candidate), &probe) == nil {
			return candidate
		}
		lastQuote = strings.LastIndex(text[:lastQuote], "\"")
	}
	return ""
}

// matchingBracket finds the closing ']' for the '[' at start, skipping
// brackets inside string values and escape sequences. Returns -1 when the
// array is unterminated.
func matchingBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
