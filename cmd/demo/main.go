// Command demo prints the frames of a scripted chat turn without calling a
// model provider. It is handy to inspect the wire format.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"goa.design/clue/log"

	"goa.design/chatui/runtime/agent/run"
	"goa.design/chatui/runtime/agent/run/runtest"
	"goa.design/chatui/runtime/agent/telemetry"
	"goa.design/chatui/runtime/chatui/messages"
	"goa.design/chatui/runtime/chatui/parts"
	"goa.design/chatui/runtime/chatui/stream"
)

func main() {
	var (
		failF     = flag.Bool("fail", false, "Make the tool call fail to show the error path")
		artifactF = flag.Bool("artifact", false, "End with a code artifact instead of text")
	)
	flag.Parse()
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))

	tr, err := stream.New(stream.Options{Agent: demoAgent(*failF, *artifactF), Logger: telemetry.NewClueLogger()})
	if err != nil {
		log.Fatalf(ctx, err, "failed to create translator")
	}
	msg := messages.UIMessage{ID: "demo", Role: messages.RoleUser, Parts: []parts.Part{parts.Text{Text: "What time is it in Paris?"}}}
	if err := tr.Pump(ctx, stream.Request{Message: msg}, stream.NewWriterSink(os.Stdout)); err != nil {
		log.Fatalf(ctx, err, "chat turn failed")
	}
}

func demoAgent(fail, artifact bool) *runtest.Agent {
	call := run.ToolCallEvent{ToolCallID: "call_1", ToolName: "current_time", Args: json.RawMessage(`{"timezone":"Europe/Paris"}`)}
	steps := []runtest.Step{
		runtest.UserPrompt(),
		runtest.ModelRequest(run.ToolCallStartEvent{ToolCallID: "call_1", ToolName: "current_time"}),
	}
	if fail {
		return &runtest.Agent{Steps: append(steps,
			runtest.CallTools(call).Fail(errors.New("time service unavailable")))}
	}
	steps = append(steps, runtest.CallTools(call, run.ToolResultEvent{ToolCallID: "call_1", ToolName: "current_time", Result: "2026-10-16T14:00:00+02:00"}))
	if artifact {
		code := parts.CodeArtifactData{FileName: "clock.go", Language: "go", Code: fmt.Sprintf("package main\n\nconst now = %q\n", "14:00")}
		return &runtest.Agent{Steps: append(steps,
			runtest.ModelRequest(run.ToolCallStartEvent{ToolCallID: "call_2", ToolName: "write_code"}, run.FinalResultEvent{ToolName: "write_code", ToolCallID: "call_2"}),
			runtest.EndWithTool(code, "write_code", "call_2"))}
	}
	return &runtest.Agent{Steps: append(steps,
		runtest.ModelRequest(run.TextStartEvent{Content: "It is "}, run.TextDeltaEvent{Delta: "2pm in Paris."}),
		runtest.End("It is 2pm in Paris."))}
}
