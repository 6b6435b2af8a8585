package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// FallbackConfidence is reported when the answer is free text instead of JSON.
const FallbackConfidence = 0.5

const fallbackJustification = "No se pudo interpretar la respuesta estructurada del modelo."

const resultSchema = `{
  "type": "object",
  "required": ["category", "confidence", "justification"],
  "properties": {
    "category": {"type": "string", "minLength": 1},
    "confidence": {"type": "number"},
    "justification": {"type": "string", "minLength": 1}
  }
}`

var errEmptyResponse = errors.New("empty model response")

var fencePattern = regexp.MustCompile("(?i)```(?:json)?")

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchema))
	if err != nil {
		return nil, fmt.Errorf("decode classification schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("classification.json", doc); err != nil {
		return nil, fmt.Errorf("add classification schema: %w", err)
	}
	return compiler.Compile("classification.json")
})

// parseResult turns a raw model answer into a classification. Answers that are
// not JSON at all degrade to a low-confidence guess from the first line; JSON
// that misses required fields is an error.
func parseResult(raw string, catalog domain.CategoryCatalog) (domain.ClassificationResult, error) {
	text := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
	if text == "" {
		return domain.ClassificationResult{}, errEmptyResponse
	}

	object, ok := extractJSONObject(text)
	if !ok {
		return fallbackResult(text, catalog), nil
	}
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(object))
	if err != nil {
		return fallbackResult(text, catalog), nil
	}

	schema, err := compiledSchema()
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	if err := schema.Validate(instance); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("classification response does not match schema: %w", err)
	}

	var result domain.ClassificationResult
	if err := json.Unmarshal([]byte(object), &result); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("parse classification json: %w", err)
	}
	result.Category = catalog.Normalize(result.Category)
	result.Confidence = min(max(result.Confidence, 0), 1)
	result.Justification = strings.TrimSpace(result.Justification)
	return result, nil
}

func fallbackResult(text string, catalog domain.CategoryCatalog) domain.ClassificationResult {
	line, _, _ := strings.Cut(text, "\n")
	category := truncateRunes(strings.TrimSpace(line), 80)
	if category == "" {
		category = catalog.Fallback.Name
	}
	return domain.ClassificationResult{
		Category:      catalog.Normalize(category),
		Confidence:    FallbackConfidence,
		Justification: fallbackJustification,
	}
}

func extractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], true
	}
	return "", false
}
