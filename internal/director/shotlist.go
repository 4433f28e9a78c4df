package director

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

var shotListSchema = &jsonschema.Schema{
	Type:     "array",
	Items:    &jsonschema.Schema{Type: "string", MinLength: intPtr(1)},
	MinItems: intPtr(ShotCount),
	MaxItems: intPtr(ShotCount),
}

var resolvedShotList = mustResolve(shotListSchema)

// ShotListSchema is sent with grid requests as the response schema.
func ShotListSchema() *jsonschema.Schema {
	return shotListSchema
}

// ParseShotList decodes a model reply into exactly ShotCount prompts.
func ParseShotList(raw string) ([]string, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, errors.New("empty shot list")
	}

	var decoded any
	if err := unmarshalJSON([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("decode shot list: %w", err)
	}
	if err := resolvedShotList.Validate(decoded); err != nil {
		return nil, fmt.Errorf("validate shot list: %w", err)
	}

	items, _ := decoded.([]any)
	shots := make([]string, 0, len(items))
	for i, item := range items {
		s, _ := item.(string)
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("validate shot list: item %d is blank", i)
		}
		shots = append(shots, s)
	}
	return shots, nil
}

func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// drop the language tag line
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	r, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("resolve shot list schema: %v", err))
	}
	return r
}

func intPtr(v int) *int { return &v }
