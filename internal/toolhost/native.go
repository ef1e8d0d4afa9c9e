package toolhost

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/conduit/internal/tp"
)

// pingArgs is the (empty) argument shape for host:ping, declared as a Go
// struct so its JSON schema is generated rather than hand-written.
type pingArgs struct{}

// NewPingTool builds the built-in host:ping liveness probe. It takes no
// arguments and returns the server's current time, useful for exercising
// the coordinator's call_tool path without a subprocess.
func NewPingTool() *NativeTool {
	schema := jsonschema.Reflect(&pingArgs{})
	raw, _ := json.Marshal(schema)

	return &NativeTool{
		Definition: &tp.Tool{
			Name:        "ping",
			Description: "Returns the host's current time; used to verify the tool coordinator is reachable.",
			InputSchema: raw,
		},
		Call: func(ctx context.Context, args json.RawMessage) (*tp.ToolCallResult, error) {
			return &tp.ToolCallResult{
				Content: []tp.ToolResultContent{
					{Type: "text", Text: time.Now().UTC().Format(time.RFC3339)},
				},
			}, nil
		},
	}
}
