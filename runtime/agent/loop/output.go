package loop

import (
	"encoding/json"
	"fmt"
)

// OutputTool is a tool the model calls to return the final result of a run.
type OutputTool struct {
	// Name is the tool name presented to the model.
	Name string
	// Description documents the expected output.
	Description string
	// Schema is the JSON schema of the output.
	Schema any
	// Decode converts the tool arguments into the final output. A decoding
	// error is sent back to the model as a retry prompt.
	Decode func(args json.RawMessage) (any, error)
}

// NewOutputTool returns an output tool decoding its arguments into a T.
func NewOutputTool[T any](name, description string, schema any) *OutputTool {
	return &OutputTool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Decode: func(args json.RawMessage) (any, error) {
			var v T
			if err := json.Unmarshal(args, &v); err != nil {
				return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
			}
			return v, nil
		},
	}
}
