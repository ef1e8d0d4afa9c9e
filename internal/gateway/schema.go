package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound frame shapes. Only identify and message carry a validated
// payload; anything else is a ProtocolError handled by the caller.
const (
	inboundFrameSchema = `{
		"type": "object",
		"properties": {
			"type": {"type": "string"},
			"payload": {"type": "object"}
		},
		"required": ["type"]
	}`

	identifyPayloadSchema = `{
		"type": "object",
		"properties": {
			"email": {"type": "string", "minLength": 1}
		},
		"required": ["email"]
	}`

	messagePayloadSchema = `{
		"type": "object",
		"properties": {
			"text": {"type": "string"}
		},
		"required": ["text"]
	}`
)

type schemaRegistry struct {
	once     sync.Once
	initErr  error
	frame    *jsonschema.Schema
	payloads map[string]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		frameSchema, err := jsonschema.CompileString("gateway_frame", inboundFrameSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.frame = frameSchema

		payloads := map[string]string{
			"identify": identifyPayloadSchema,
			"message":  messagePayloadSchema,
		}
		schemas.payloads = make(map[string]*jsonschema.Schema, len(payloads))
		for name, src := range payloads {
			compiled, err := jsonschema.CompileString("gateway_payload_"+name, src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.payloads[name] = compiled
		}
	})
	return schemas.initErr
}

// validateInboundFrame checks the frame envelope, then its payload against
// the schema registered for frame.Type, if any. An unrecognized type isn't
// a schema error here; the caller decides whether to reject it.
func validateInboundFrame(raw []byte) (*Frame, error) {
	if err := initSchemas(); err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON frame: %w", err)
	}
	if err := schemas.frame.Validate(generic); err != nil {
		return nil, fmt.Errorf("frame failed schema validation: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON frame: %w", err)
	}

	if payloadSchema, ok := schemas.payloads[f.Type]; ok {
		var payload any
		if len(f.Payload) == 0 {
			payload = map[string]any{}
		} else if err := json.Unmarshal(f.Payload, &payload); err != nil {
			return nil, fmt.Errorf("invalid payload JSON: %w", err)
		}
		if err := payloadSchema.Validate(payload); err != nil {
			return nil, fmt.Errorf("payload failed schema validation for %q: %w", f.Type, err)
		}
	}

	return &f, nil
}
