package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation wraps schema violations so handlers can map them to 422.
var ErrValidation = errors.New("validation failed")

// Validator checks errand item payloads against per-errand-type JSON
// schemas loaded from a schemas directory (pharmacy.v1.json etc).
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every *.json schema in schemaDir, keyed by file name
// minus the .v1 suffix.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		errandType := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		errandType = strings.TrimSuffix(errandType, ".v1")
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(e.Name(), strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("add schema %q: %w", path, err)
		}
		schema, err := compiler.Compile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", path, err)
		}
		schemas[errandType] = schema
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no schemas found in %q", schemaDir)
	}
	return &Validator{schemas: schemas}, nil
}

// ValidateItems hard-rejects an unknown errand type or a payload that fails
// its schema. An empty payload is allowed; not every errand itemizes.
func (v *Validator) ValidateItems(errandType string, payload []byte) error {
	schema, ok := v.schemas[errandType]
	if !ok {
		return fmt.Errorf("%w: unknown errand type %q", ErrValidation, errandType)
	}
	if len(payload) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: items payload is not valid JSON", ErrValidation)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
