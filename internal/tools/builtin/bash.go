package builtin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/agentcore/agentcore/internal/tools"
)

// GracePeriod is how long a cancelled Bash invocation is given to exit after
// SIGTERM before the process is killed outright (spec §5: "5s... grace
// period before the daemon kills them").
const GracePeriod = 5 * time.Second

// BashTool runs a shell command under the session's project root. Output is
// captured up to MaxOutput bytes.
type BashTool struct{}

// MaxOutput bounds captured stdout+stderr, matching spec §5's "max tool
// output capture (default 1 MiB per call, truncated with marker)".
const MaxOutput = 1 << 20

func (BashTool) Name() string   { return "Bash" }
func (BashTool) ReadOnly() bool { return false }
func (BashTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"command": {"type": "string"}},
		"required": ["command"]
	}`)
}

func (BashTool) Execute(ectx tools.ExecContext, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("Bash: invalid arguments: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", in.Command)
	cmd.Dir = ectx.ProjectRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return tools.Result{}, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return toolOutput(out, err)
	case <-ectx.Context.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err := <-done:
			return toolOutput(out, err)
		case <-time.After(GracePeriod):
			_ = cmd.Process.Kill()
			<-done
			return tools.Result{}, ectx.Context.Err()
		}
	}
}

func toolOutput(out bytes.Buffer, err error) (tools.Result, error) {
	content := out.String()
	truncated := false
	if len(content) > MaxOutput {
		content = content[:MaxOutput]
		truncated = true
	}
	if truncated {
		content += "\n...[truncated]"
	}
	if err != nil {
		return tools.Result{Content: content}, err
	}
	return tools.Result{Content: content}, nil
}
