package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// ScriptTool is a tool backed by a user-supplied JavaScript snippet executed
// in an embedded goja runtime. The script receives the call arguments as the
// global `args` object and its final expression value becomes the payload.
type ScriptTool struct {
	BaseTool
	script  string
	timeout time.Duration
}

// ScriptToolConfig holds configuration for creating a ScriptTool.
type ScriptToolConfig struct {
	Name         string
	Description  string
	Parameters   map[string]any
	OutputFields []string
	Script       string
	Timeout      time.Duration
}

// NewScriptTool creates a new script tool.
func NewScriptTool(cfg ScriptToolConfig) *ScriptTool {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ScriptTool{
		BaseTool: BaseTool{
			ToolName:         cfg.Name,
			ToolDescription:  cfg.Description,
			ToolParameters:   cfg.Parameters,
			ToolOutputFields: cfg.OutputFields,
		},
		script:  cfg.Script,
		timeout: timeout,
	}
}

// Execute runs the script with the given arguments. A fresh runtime is
// created per call so scripts cannot leak state across invocations.
func (t *ScriptTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	vm := goja.New()
	if err := vm.Set("args", args); err != nil {
		return NewExecutionFailure(fmt.Sprintf("set args: %v", err)), nil
	}

	// Interrupt the runtime when the deadline passes; goja has no native
	// context support.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	value, err := vm.RunString(t.script)
	if err != nil {
		if ctx.Err() != nil {
			return NewTimeout(fmt.Sprintf("script %s: %v", t.Name(), ctx.Err())), nil
		}
		return NewExecutionFailure(fmt.Sprintf("script %s: %v", t.Name(), err)), nil
	}

	payload, err := json.Marshal(value.Export())
	if err != nil {
		return NewExecutionFailure(fmt.Sprintf("script %s: marshal result: %v", t.Name(), err)), nil
	}
	return NewSuccess(payload), nil
}
