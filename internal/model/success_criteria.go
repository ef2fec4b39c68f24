package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type CriteriaType string

const (
	CriteriaNull            CriteriaType = "null"
	CriteriaExactMatch      CriteriaType = "Unstructured Exact Match"
	CriteriaPartialMatch    CriteriaType = "Unstructured Partial Match"
	CriteriaJSONSchemaMatch CriteriaType = "Structured JSON Schema Match"
)

var (
	ErrUnknownCriteriaType = errors.New("unknown success criteria type")
	ErrNullCriteria        = errors.New("success criteria is not configured")
	ErrInvalidSchema       = errors.New("invalid json schema")
)

// Criterion decides whether a single pipeline output counts as a pass.
// IsSatisfiedBy must not panic.
type Criterion interface {
	Type() CriteriaType
	IsSatisfiedBy(output string) bool
}

// NullCriterion is the placeholder for an evaluation that has no criterion yet.
type NullCriterion struct{}

func (NullCriterion) Type() CriteriaType { return CriteriaNull }

func (NullCriterion) IsSatisfiedBy(string) bool { return true }

// ExactMatch passes when the output equals Value byte for byte.
type ExactMatch struct {
	Value string
}

func (ExactMatch) Type() CriteriaType { return CriteriaExactMatch }

func (m ExactMatch) IsSatisfiedBy(output string) bool { return output == m.Value }

// PartialMatch passes when the output contains Value.
type PartialMatch struct {
	Value string
}

func (PartialMatch) Type() CriteriaType { return CriteriaPartialMatch }

func (m PartialMatch) IsSatisfiedBy(output string) bool { return strings.Contains(output, m.Value) }

// JSONSchemaMatch passes when the output is a JSON document valid against Schema.
type JSONSchemaMatch struct {
	Schema string
}

func (JSONSchemaMatch) Type() CriteriaType { return CriteriaJSONSchemaMatch }

func (m JSONSchemaMatch) IsSatisfiedBy(output string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if !json.Valid([]byte(output)) {
		return false
	}
	schema, err := compileSchema(m.Schema)
	if err != nil {
		return false
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(output))
	if err != nil {
		return false
	}
	return result.Valid()
}

// ValidateSchema reports whether schema is a well-formed, compilable JSON schema.
func ValidateSchema(schema string) error {
	if strings.TrimSpace(schema) == "" {
		return fmt.Errorf("%w: schema is empty", ErrInvalidSchema)
	}
	_, err := compileSchema(schema)
	return err
}

const schemaCacheSize = 256

// schemaCache holds compiled schemas by source text. It is reset when full.
var schemaCache = struct {
	sync.Mutex
	m map[string]*gojsonschema.Schema
}{m: make(map[string]*gojsonschema.Schema)}

// compileSchema compiles schema once per distinct text. Only "#..." references
// are accepted, so compiling never reads files or fetches URLs.
func compileSchema(schema string) (*gojsonschema.Schema, error) {
	schemaCache.Lock()
	compiled, ok := schemaCache.m[schema]
	schemaCache.Unlock()
	if ok {
		return compiled, nil
	}

	var doc any
	if err := json.Unmarshal([]byte(schema), &doc); err != nil {
		return nil, fmt.Errorf("%w: schema is not valid json", ErrInvalidSchema)
	}
	if err := checkLocalRefs(doc); err != nil {
		return nil, err
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	schemaCache.Lock()
	if len(schemaCache.m) >= schemaCacheSize {
		schemaCache.m = make(map[string]*gojsonschema.Schema)
	}
	schemaCache.m[schema] = compiled
	schemaCache.Unlock()
	return compiled, nil
}

func checkLocalRefs(node any) error {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			if key == "$ref" {
				ref, ok := child.(string)
				if !ok || !strings.HasPrefix(ref, "#") {
					return fmt.Errorf("%w: only local $ref (\"#...\") is allowed", ErrInvalidSchema)
				}
				continue
			}
			if err := checkLocalRefs(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := checkLocalRefs(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// SuccessCriteria carries one Criterion and encodes it with a "type"
// discriminator, both as JSON and as a database column.
type SuccessCriteria struct {
	Criterion
}

func NewSuccessCriteria(c Criterion) SuccessCriteria {
	return SuccessCriteria{Criterion: c}
}

func (s SuccessCriteria) criterion() Criterion {
	if s.Criterion == nil {
		return NullCriterion{}
	}
	return s.Criterion
}

func (s SuccessCriteria) Type() CriteriaType {
	return s.criterion().Type()
}

func (s SuccessCriteria) IsSatisfiedBy(output string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return s.criterion().IsSatisfiedBy(output)
}

// Validate rejects criteria that cannot be used by a run.
func (s SuccessCriteria) Validate() error {
	switch c := s.criterion().(type) {
	case NullCriterion:
		return ErrNullCriteria
	case JSONSchemaMatch:
		return ValidateSchema(c.Schema)
	}
	return nil
}

type successCriteriaWire struct {
	Type   CriteriaType `json:"type"`
	Value  *string      `json:"value,omitempty"`
	Schema *string      `json:"schema,omitempty"`
}

func (s SuccessCriteria) MarshalJSON() ([]byte, error) {
	w := successCriteriaWire{Type: s.Type()}
	switch c := s.criterion().(type) {
	case ExactMatch:
		w.Value = &c.Value
	case PartialMatch:
		w.Value = &c.Value
	case JSONSchemaMatch:
		w.Schema = &c.Schema
	}
	return json.Marshal(w)
}

func (s *SuccessCriteria) UnmarshalJSON(data []byte) error {
	var w successCriteriaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}

	switch w.Type {
	case CriteriaNull:
		s.Criterion = NullCriterion{}
	case CriteriaExactMatch:
		s.Criterion = ExactMatch{Value: deref(w.Value)}
	case CriteriaPartialMatch:
		s.Criterion = PartialMatch{Value: deref(w.Value)}
	case CriteriaJSONSchemaMatch:
		s.Criterion = JSONSchemaMatch{Schema: deref(w.Schema)}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCriteriaType, w.Type)
	}
	return nil
}

// Value implements driver.Valuer.
func (s SuccessCriteria) Value() (driver.Value, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *SuccessCriteria) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.Criterion = NullCriterion{}
		return nil
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("scan success criteria: unsupported type %T", src)
	}
}
