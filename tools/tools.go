// Package tools defines the tool abstraction presented to the language model
// and the registry that aggregates tools discovered across sessions.
package tools

import (
	"context"
	"encoding/json"
)

// ITool is a named, schema-described operation the model can invoke.
type ITool interface {
	// Name returns the name of the tool.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	Description() string
	// Parameters returns the JSON schema of the tool arguments.
	Parameters() json.RawMessage

	// Call executes the tool with a JSON argument string and returns the
	// textual result.
	Call(ctx context.Context, input string) (string, error)
}
