// Package responseparser implements the multi-strategy extraction LLMRouter
// uses to recover structured data from free-form model text, plus the
// schema validation that follows it. Strategies are tried in order of
// strictness; the first that yields valid JSON wins.
package responseparser

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FailureKind classifies why parsing or validation failed.
type FailureKind int

const (
	// NoFailure indicates parsing and validation both succeeded.
	NoFailure FailureKind = iota
	// ParseFailure indicates no strategy could extract valid JSON.
	ParseFailure
	// SchemaFailure indicates JSON was extracted but failed schema
	// validation.
	SchemaFailure
)

// Schema is a JSON-Schema-lite description: required top-level fields
// and their expected gjson type, rather than a full JSON-Schema
// implementation.
type Schema struct {
	Required map[string]gjson.Type
}

// Result is the outcome of Parse.
type Result struct {
	// Raw is the extracted JSON text, valid regardless of schema outcome.
	Raw string
	// Strategy names which extraction strategy succeeded ("direct",
	// "fenced_block", "balanced_scan"), empty on ParseFailure.
	Strategy string
	// Failure is NoFailure on success.
	Failure FailureKind
	// RetryEligible is true for ParseFailure and SchemaFailure: both are
	// eligible for one LLMRouter strict-mode retry.
	RetryEligible bool
}

// Parse extracts and validates structured data from an LLM response's
// text, in four stages: (1) direct parse, (2) fenced code block
// extraction, (3) balanced brace/bracket scan, (4) parse_failure. A
// successfully extracted value is then checked against schema.
func Parse(text string, schema Schema) Result {
	if raw, ok := tryDirect(text); ok {
		return validate(raw, "direct", schema)
	}
	if raw, ok := tryFencedBlock(text); ok {
		return validate(raw, "fenced_block", schema)
	}
	if raw, ok := tryBalancedScan(text); ok {
		return validate(raw, "balanced_scan", schema)
	}
	return Result{Failure: ParseFailure, RetryEligible: true}
}

func tryDirect(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if !gjson.Valid(trimmed) {
		return "", false
	}
	return trimmed, true
}

// tryFencedBlock extracts the first fenced code block labeled as
// structured data (```json ... ``` or a bare ``` ... ``` fence).
func tryFencedBlock(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(fence):]

	// Skip an optional language tag on the same line as the opening fence.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || isLanguageTag(tag) {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, fence)
	if end < 0 {
		return "", false
	}

	body := strings.TrimSpace(rest[:end])
	if !gjson.Valid(body) {
		return "", false
	}
	return body, true
}

func isLanguageTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "json", "js", "javascript", "yaml", "yml", "text", "txt":
		return true
	default:
		return false
	}
}

// tryBalancedScan extracts the first balanced brace or bracket region in
// text and validates it as JSON via gjson rather than a hand-rolled
// bracket matcher that would have to re-derive what gjson already knows
// about quoting and escapes.
func tryBalancedScan(text string) (string, bool) {
	for i, r := range text {
		if r != '{' && r != '[' {
			continue
		}
		open, close := byte('{'), byte('}')
		if r == '[' {
			open, close = '[', ']'
		}
		if end, ok := scanBalanced(text, i, open, close); ok {
			candidate := text[i:end]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// scanBalanced finds the index just past the character matching the
// opening delimiter at start, respecting string quoting so braces inside
// string literals don't confuse the depth count.
func scanBalanced(text string, start int, open, close byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func validate(raw, strategy string, schema Schema) Result {
	if !validateSchema(raw, schema) {
		return Result{Raw: raw, Strategy: strategy, Failure: SchemaFailure, RetryEligible: true}
	}
	return Result{Raw: raw, Strategy: strategy, Failure: NoFailure}
}

// ExamplePayload renders a placeholder JSON object satisfying schema's
// required fields and their types, for echoing the expected response shape
// back into a strict-mode retry prompt.
func (s Schema) ExamplePayload() string {
	payload := "{}"
	for field, typ := range s.Required {
		updated, err := sjson.Set(payload, field, placeholderFor(typ))
		if err != nil {
			continue
		}
		payload = updated
	}
	return payload
}

func placeholderFor(t gjson.Type) any {
	switch t {
	case gjson.String:
		return "string"
	case gjson.Number:
		return 0
	case gjson.True, gjson.False:
		return false
	case gjson.JSON:
		return []any{}
	default:
		return nil
	}
}

func validateSchema(raw string, schema Schema) bool {
	for field, wantType := range schema.Required {
		res := gjson.Get(raw, field)
		if !res.Exists() {
			return false
		}
		if wantType != gjson.Null && res.Type != wantType {
			return false
		}
	}
	return true
}
