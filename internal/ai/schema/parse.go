// Package schema holds the provider-independent AI contract: prompts, JSON
// schemas for model replies, strict parsing and error classification.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kiranshivaraju/picflow/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var DescriptionSchema = map[string]any{
	"type":     "object",
	"required": []string{"title", "description"},
	"properties": map[string]any{
		"title":       map[string]any{"type": "string", "maxLength": 200},
		"description": map[string]any{"type": "string", "maxLength": 4000},
	},
}

var TagsSchema = map[string]any{
	"type":     "object",
	"required": []string{"tags"},
	"properties": map[string]any{
		"tags": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "maxLength": 100},
		},
	},
}

var (
	descriptionValidator = mustCompile("description.json", DescriptionSchema)
	tagsValidator        = mustCompile("tags.json", TagsSchema)
)

func mustCompile(name string, schemaMap map[string]any) *jsonschema.Schema {
	s, err := compile(name, schemaMap)
	if err != nil {
		panic(err)
	}
	return s
}

func compile(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// ValidateJSON validates data against a schema given as a map.
func ValidateJSON(schemaMap map[string]any, data []byte) error {
	s, err := compile("schema.json", schemaMap)
	if err != nil {
		return err
	}
	return validate(s, data)
}

func validate(s *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: decode json: %v", ErrInvalidResponse, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: json does not match schema: %v", ErrInvalidResponse, err)
	}
	return nil
}

// ParseDescription strictly parses a DescribeImage reply.
func ParseDescription(content string) (models.ImageDescription, error) {
	raw := []byte(StripCodeFence(content))
	if err := validate(descriptionValidator, raw); err != nil {
		return models.ImageDescription{}, err
	}
	var out models.ImageDescription
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.ImageDescription{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Description = strings.TrimSpace(out.Description)
	return out, nil
}

// ParseTags strictly parses a SuggestTags reply. Names are trimmed and
// empty entries dropped; no cap is applied here.
func ParseTags(content string) ([]string, error) {
	raw := []byte(StripCodeFence(content))
	if err := validate(tagsValidator, raw); err != nil {
		return nil, err
	}
	var out struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	tags := make([]string, 0, len(out.Tags))
	for _, t := range out.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

// CheckEmbedding rejects empty vectors, non-finite values and, when
// dims > 0, vectors of the wrong length.
func CheckEmbedding(vec []float32, dims int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrInvalidResponse)
	}
	if dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrInvalidResponse, len(vec), dims)
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: embedding contains non-finite value", ErrInvalidResponse)
		}
	}
	return nil
}

// StripCodeFence removes a surrounding markdown code fence, which some
// models emit even in JSON mode.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
