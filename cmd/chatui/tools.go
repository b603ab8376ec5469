package main

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/chatui/runtime/agent/loop"
	"goa.design/chatui/runtime/agent/toolerrors"
	"goa.design/chatui/runtime/chatui/parts"
)

// currentTimeSchema is the argument schema of the current_time tool.
var currentTimeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"timezone": map[string]any{
			"type":        "string",
			"description": "IANA time zone name, e.g. Europe/Paris. Defaults to UTC.",
		},
	},
}

// codeArtifactSchema is the argument schema of the write_code output tool.
var codeArtifactSchema = map[string]any{
	"type":     "object",
	"required": []string{"file_name", "code", "language"},
	"properties": map[string]any{
		"file_name": map[string]any{"type": "string"},
		"code":      map[string]any{"type": "string"},
		"language":  map[string]any{"type": "string"},
	},
}

// builtinTools returns the function tools served by the binary. now is the
// clock used by current_time.
func builtinTools(now func() time.Time) []loop.Tool {
	return []loop.Tool{
		{
			Name:        "current_time",
			Description: "Returns the current date and time in the given time zone.",
			Schema:      currentTimeSchema,
			Handler: func(_ context.Context, _ any, args json.RawMessage) (any, error) {
				var in struct {
					Timezone string `json:"timezone"`
				}
				if len(args) > 0 {
					if err := json.Unmarshal(args, &in); err != nil {
						return nil, toolerrors.Retry("arguments must be a JSON object: %v", err)
					}
				}
				loc := time.UTC
				if in.Timezone != "" {
					l, err := time.LoadLocation(in.Timezone)
					if err != nil {
						return nil, toolerrors.Retry("unknown time zone %q, use an IANA name such as Europe/Paris", in.Timezone)
					}
					loc = l
				}
				return now().In(loc).Format(time.RFC3339), nil
			},
		},
	}
}

// codeOutputTool lets the model answer with a code artifact.
func codeOutputTool() *loop.OutputTool {
	return loop.NewOutputTool[parts.CodeArtifactData](
		"write_code",
		"Return a complete source file as the final answer.",
		codeArtifactSchema,
	)
}
