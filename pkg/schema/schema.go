// Package schema reflects Go input structs into the JSON schemas advertised
// for tools.
package schema

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
)

var (
	cache   = make(map[reflect.Type]*Schema)
	cacheMu sync.Mutex
)

// Schema holds the reflected schema of one tool input type.
type Schema struct {
	// Parameters is an inline object schema: {"type":"object","properties":...}.
	Parameters *jsonschema.Schema
}

// New reflects the given struct type into an inline object schema. Results
// are cached per type.
func New(t reflect.Type) (*Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[t]; ok {
		return s, nil
	}

	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Newf("schema: expected a struct type, got %v", t)
	}

	reflector := jsonschema.Reflector{
		// Inline the schema rather than emitting $defs references; the
		// consumers of a tool input schema expect a self-contained object.
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := &Schema{
		Parameters: reflector.ReflectFromType(t),
	}
	// Version noise is meaningless inside a tool declaration.
	s.Parameters.Version = ""
	cache[t] = s
	return s, nil
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}
