// Package validation checks model function calls against their JSON Schemas
// and recovers from malformed calls with a single corrective re-ask.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// ValidationError lists why a call did not match its declaration.
type ValidationError struct {
	Function string
	Issues   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("function %s validation failed: %s", e.Function, strings.Join(e.Issues, "; "))
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*gojsonschema.Schema{}
)

func compile(schemaJSON string) (*gojsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[schemaJSON]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, err
	}
	schemaCache[schemaJSON] = s
	return s, nil
}

// ValidateArgs checks args against def.Parameters.
func ValidateArgs(def engine.FunctionDef, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	schema, err := compile(def.Parameters)
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", def.Name, err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var issues []string
	if !result.Valid() {
		for _, e := range result.Errors() {
			issues = append(issues, e.String())
		}
	}
	issues = append(issues, shapeIssues(def.Parameters, args)...)
	if len(issues) > 0 {
		return &ValidationError{Function: def.Name, Issues: issues}
	}
	return nil
}

// ValidateCalls checks that calls hold exactly one call to def and that its
// arguments are valid. It returns the matching call when one exists, even if invalid.
func ValidateCalls(calls []engine.FunctionCall, def engine.FunctionDef) (*engine.FunctionCall, error) {
	var match *engine.FunctionCall
	var issues []string
	for i := range calls {
		if calls[i].Name == def.Name {
			if match == nil {
				match = &calls[i]
			}
			continue
		}
		issues = append(issues, fmt.Sprintf("unexpected function %q, only %q may be called", calls[i].Name, def.Name))
	}
	switch {
	case len(calls) == 0:
		issues = append(issues, fmt.Sprintf("no function call; you must call %q", def.Name))
	case match == nil:
		// issues already name the wrong functions
	case len(calls) > 1:
		issues = append(issues, fmt.Sprintf("expected exactly one call to %q, got %d calls", def.Name, len(calls)))
	}

	if match != nil {
		if err := ValidateArgs(def, match.Args); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				issues = append(issues, verr.Issues...)
			} else {
				return match, err
			}
		}
	}
	if len(issues) > 0 {
		return match, &ValidationError{Function: def.Name, Issues: issues}
	}
	return match, nil
}

// shapeIssues reports top-level fields the schema does not declare, with a
// hint when the model put a list under the wrong name.
func shapeIssues(schemaJSON string, args map[string]any) []string {
	var schema struct {
		Properties map[string]struct {
			Type any `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil || len(schema.Properties) == 0 {
		return nil
	}

	var arrayFields []string
	for name, p := range schema.Properties {
		if t, _ := p.Type.(string); t == "array" {
			if _, present := args[name]; !present {
				arrayFields = append(arrayFields, name)
			}
		}
	}
	sort.Strings(arrayFields)

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []string
	for _, k := range keys {
		if _, ok := schema.Properties[k]; ok {
			continue
		}
		if _, isList := args[k].([]any); isList && len(arrayFields) > 0 {
			issues = append(issues, fmt.Sprintf("field %q is not declared; did you mean %q?", k, arrayFields[0]))
			continue
		}
		issues = append(issues, fmt.Sprintf("field %q is not declared", k))
	}
	return issues
}

// DecodeArgs converts call arguments into a typed struct.
func DecodeArgs(call engine.FunctionCall, v any) error {
	data, err := json.Marshal(call.Args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", call.Name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s args: %w", call.Name, err)
	}
	return nil
}

// MustSchema marshals a schema literal for a FunctionDef.
func MustSchema(schema map[string]any) string {
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("validation: bad schema literal: %v", err))
	}
	return string(data)
}
