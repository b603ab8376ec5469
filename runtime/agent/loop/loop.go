// Package loop implements run.Agent on top of a model.Client: it alternates
// model requests and tool executions until the model produces a final answer,
// either as plain text or through an output tool.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/run"
	"goa.design/chatui/runtime/agent/telemetry"
	"goa.design/chatui/runtime/agent/tools"
)

const (
	defaultMaxSteps   = 10
	defaultMaxRetries = 2
)

type (
	// Options configures an Agent.
	Options struct {
		// Client invokes the model. Required.
		Client model.Client
		// Model is the provider model identifier.
		Model string
		// System is the system prompt.
		System string
		// Tools are the function tools available to the model.
		Tools []Tool
		// Output, if set, is an output tool the model calls to return a
		// structured final result. Text answers remain accepted.
		Output *OutputTool
		// MaxTokens and Temperature are passed to every model request.
		MaxTokens   int
		Temperature float32
		// MaxSteps bounds the number of model requests per run. Defaults to 10.
		MaxSteps int
		// MaxRetries bounds the retry prompts per tool and run. Defaults to 2.
		MaxRetries int
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Tool is a function tool.
	Tool struct {
		// Name is the tool name presented to the model.
		Name tools.Ident
		// Description documents the tool for the model.
		Description string
		// Schema is the JSON schema of the arguments.
		Schema any
		// Handler executes the tool. Returning a toolerrors.RetryError asks
		// the model to try again; any other error aborts the run.
		Handler func(ctx context.Context, deps any, args json.RawMessage) (any, error)
	}

	// Agent runs the model and tool loop.
	Agent struct {
		client      model.Client
		model       string
		system      string
		tools       map[string]Tool
		defs        []*model.ToolDefinition
		output      *OutputTool
		maxTokens   int
		temperature float32
		maxSteps    int
		maxRetries  int
		logger      telemetry.Logger
	}
)

// ErrMaxSteps is returned when a run exceeds the configured number of model
// requests.
var ErrMaxSteps = errors.New("loop: too many model requests")

// New returns an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Client == nil {
		return nil, errors.New("model client is required")
	}
	a := &Agent{
		client:      opts.Client,
		model:       opts.Model,
		system:      opts.System,
		tools:       make(map[string]Tool, len(opts.Tools)),
		output:      opts.Output,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		maxSteps:    opts.MaxSteps,
		maxRetries:  opts.MaxRetries,
		logger:      opts.Logger,
	}
	for _, t := range opts.Tools {
		name := t.Name.String()
		if name == "" {
			return nil, errors.New("tool name is required")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q: handler is required", name)
		}
		if _, dup := a.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		a.tools[name] = t
		a.defs = append(a.defs, &model.ToolDefinition{Name: name, Description: t.Description, InputSchema: t.Schema})
	}
	if o := opts.Output; o != nil {
		if o.Name == "" || o.Decode == nil {
			return nil, errors.New("output tool requires a name and a decoder")
		}
		if _, dup := a.tools[o.Name]; dup {
			return nil, fmt.Errorf("output tool %q collides with a function tool", o.Name)
		}
		a.defs = append(a.defs, &model.ToolDefinition{Name: o.Name, Description: o.Description, InputSchema: o.Schema})
	}
	if a.maxSteps <= 0 {
		a.maxSteps = defaultMaxSteps
	}
	if a.maxRetries <= 0 {
		a.maxRetries = defaultMaxRetries
	}
	if a.logger == nil {
		a.logger = telemetry.NewNoopLogger()
	}
	return a, nil
}

// Start implements run.Agent.
func (a *Agent) Start(ctx context.Context, in run.Input) (run.Run, error) {
	ctx, cancel := context.WithCancel(ctx)
	history := make([]*model.Message, len(in.History), len(in.History)+4)
	copy(history, in.History)
	return &loopRun{
		agent:   a,
		ctx:     ctx,
		cancel:  cancel,
		input:   in,
		history: history,
		retries: make(map[string]int),
	}, nil
}

func (a *Agent) request(history []*model.Message) model.Request {
	return model.Request{
		Model:       a.model,
		System:      a.system,
		Messages:    history,
		Tools:       a.defs,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}
}

func newToolCallID() string {
	return "call_" + uuid.NewString()
}
