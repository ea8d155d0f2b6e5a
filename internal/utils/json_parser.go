package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlockRe    = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.+?)\\s*```")
	trailingCommaRe  = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe    = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	controlCharRe    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	thinkBlockRe     = regexp.MustCompile(`(?s)<think>.*?</think>`)
	errNoJSONPayload = errors.New("no JSON payload found")
)

// ParseAIJSON decodes the first usable JSON value from model output into target.
// Model replies come back as bare JSON, fenced markdown, prose with an embedded
// object, or JSON with the usual small defects (trailing commas, bare keys,
// single quotes). Candidates are tried in that order.
func ParseAIJSON(input string, target interface{}) error {
	input = strings.TrimSpace(thinkBlockRe.ReplaceAllString(input, ""))
	if input == "" {
		return fmt.Errorf("empty input")
	}

	for _, candidate := range jsonCandidates(input) {
		if candidate == "" {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), target); err == nil {
			return nil
		}
		if repaired := repairJSON(candidate); repaired != candidate {
			if err := json.Unmarshal([]byte(repaired), target); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("failed to parse JSON from input: %s", Truncate(input, 100))
}

// HasJSONObject reports whether the text contains a balanced {...} block
func HasJSONObject(input string) bool {
	_, err := firstBalanced(input, '{', '}')
	return err == nil
}

func jsonCandidates(input string) []string {
	candidates := []string{input}
	if m := fencedBlockRe.FindStringSubmatch(input); len(m) > 1 {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if obj, err := firstBalanced(input, '{', '}'); err == nil {
		candidates = append(candidates, obj)
	}
	if arr, err := firstBalanced(input, '[', ']'); err == nil {
		candidates = append(candidates, arr)
	}
	return candidates
}

// firstBalanced returns the first open...close span, ignoring delimiters inside strings
func firstBalanced(input string, open, close byte) (string, error) {
	start := strings.IndexByte(input, open)
	if start < 0 {
		return "", errNoJSONPayload
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(input); i++ {
		ch := input[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return input[start : i+1], nil
			}
		}
	}
	return "", errNoJSONPayload
}

func repairJSON(input string) string {
	s := strings.TrimPrefix(strings.TrimSpace(input), "\ufeff")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = swapSingleQuotes(s)
	return controlCharRe.ReplaceAllString(s, "")
}

// swapSingleQuotes rewrites 'value' delimiters outside double-quoted strings.
// Apostrophes inside words are left alone.
func swapSingleQuotes(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	inDouble := false
	inSingle := false
	escaped := false
	var prev byte

	for i := 0; i < len(input); i++ {
		ch := input[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case ch == '\'' && !inDouble:
			if inSingle {
				inSingle = false
				ch = '"'
			} else if isValueBoundary(prev) {
				inSingle = true
				ch = '"'
			}
		}
		b.WriteByte(ch)
		if ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r' {
			prev = ch
		}
	}
	return b.String()
}

func isValueBoundary(prev byte) bool {
	return prev == 0 || prev == ':' || prev == ',' || prev == '[' || prev == '{'
}
