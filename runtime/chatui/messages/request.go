package messages

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ChatRequest is the body posted by the chat UI. The last message is the new
// user turn; earlier messages are what the UI currently displays.
type ChatRequest struct {
	ID       string      `json:"id"`
	Messages []UIMessage `json:"messages"`
}

// ErrNoMessages indicates a chat request without messages.
var ErrNoMessages = errors.New("chat request has no messages")

//go:embed chat_request.schema.json
var chatRequestSchema []byte

const chatRequestSchemaURL = "chat_request.schema.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// DecodeChatRequest reads, validates and decodes a chat request.
func DecodeChatRequest(r io.Reader) (*ChatRequest, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read chat request: %w", err)
	}
	if err := ValidateChatRequest(body); err != nil {
		return nil, err
	}
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode chat request: %w", err)
	}
	return &req, nil
}

// ValidateChatRequest validates body against the chat request JSON schema.
func ValidateChatRequest(body []byte) error {
	schema, err := chatSchema()
	if err != nil {
		return err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// Last returns the most recent message of the request.
func (r *ChatRequest) Last() (UIMessage, error) {
	if len(r.Messages) == 0 {
		return UIMessage{}, ErrNoMessages
	}
	return r.Messages[len(r.Messages)-1], nil
}

func chatSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(chatRequestSchema, &doc); err != nil {
			compileErr = fmt.Errorf("parse chat request schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(chatRequestSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add chat request schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(chatRequestSchemaURL)
	})
	return compiledSchema, compileErr
}
