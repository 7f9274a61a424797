package params

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed schema/actuator-params-v1.json
var actuatorParamsSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("actuator-params-v1.json",
		strings.NewReader(actuatorParamsSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("actuator-params-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDocument checks a YAML parameter document against the schema. The
// document is round-tripped through JSON so the schema sees canonical types.
func (v *Validator) ValidateDocument(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to canonicalize document: %w", err)
	}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("failed to canonicalize document: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// LoadFile reads, schema-validates and parses an actuator parameter file.
func LoadFile(path string, logger *zap.Logger) (*ActuatorParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateDocument(data); err != nil {
		return nil, fmt.Errorf("parameter file %s: %w", path, err)
	}

	src, err := NewYAMLSource(data)
	if err != nil {
		return nil, fmt.Errorf("parameter file %s: %w", path, err)
	}
	return Load(src, logger)
}
