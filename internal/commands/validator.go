package commands

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

// Validator checks raw command parameters against the schema of their
// command type.
type Validator struct {
	schemas map[types.CommandType]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	kinds := []types.CommandType{types.CommandTypeFeed, types.CommandTypeConfig, types.CommandTypeReboot}
	for _, kind := range kinds {
		name := string(kind) + ".json"
		data, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
		}
	}

	v := &Validator{schemas: make(map[types.CommandType]*jsonschema.Schema, len(kinds))}
	for _, kind := range kinds {
		schema, err := compiler.Compile(string(kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", kind, err)
		}
		v.schemas[kind] = schema
	}

	return v, nil
}

var defaultValidator = sync.OnceValues(NewValidator)

// Validate checks a decoded JSON document. Schema failures are reported as
// a *types.ValidationError keyed by "parameters.<path>".
func (v *Validator) Validate(kind types.CommandType, doc any) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return types.NewValidationError("type", fmt.Sprintf("unknown command type %q", kind))
	}

	err := schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	out := &types.ValidationError{}
	collectSchemaErrors(verr, out)
	if len(out.Fields) == 0 {
		out.Add("parameters", verr.Message)
	}
	return out
}

func collectSchemaErrors(verr *jsonschema.ValidationError, out *types.ValidationError) {
	if len(verr.Causes) == 0 {
		out.Add(fieldName(verr.InstanceLocation), verr.Message)
		return
	}
	for _, cause := range verr.Causes {
		collectSchemaErrors(cause, out)
	}
}

func fieldName(location string) string {
	location = strings.Trim(location, "/")
	if location == "" {
		return "parameters"
	}
	return "parameters." + strings.ReplaceAll(location, "/", ".")
}
