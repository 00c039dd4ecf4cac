package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ArgValidator checks model-emitted tool arguments against the parameter
// schema the tool service advertised. Compiled schemas are cached by tool
// name and schema text, so a changed schema is recompiled.
type ArgValidator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// NewArgValidator returns an empty validator.
func NewArgValidator() *ArgValidator {
	return &ArgValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate returns an error describing why args do not satisfy schema.
// An empty schema accepts anything; a schema that does not compile is
// reported as an error of its own.
func (v *ArgValidator) Validate(tool string, schema map[string]any, args map[string]any) error {
	if v == nil || len(schema) == 0 {
		return nil
	}
	compiled, err := v.compile(tool, schema)
	if err != nil {
		return err
	}

	var doc any = map[string]any{}
	if args != nil {
		doc = args
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", tool, err)
	}
	return nil
}

func (v *ArgValidator) compile(tool string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding schema for %s: %w", tool, err)
	}
	key := tool + "\x00" + string(raw)

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[key]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString("tool_"+tool+".json", string(raw))
	if err != nil {
		return nil, &SchemaError{Tool: tool, Err: err}
	}
	v.cache[key] = s
	return s, nil
}

// SchemaError is returned when a tool's advertised schema cannot be
// compiled. Callers skip validation for such tools.
type SchemaError struct {
	Tool string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("compiling schema for %s: %v", e.Tool, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }
