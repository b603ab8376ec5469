// Package history defines the conversation history storage used by the chat
// server. A chat is identified by the id the UI sends with each request;
// its history is the ordered list of model messages produced by past turns.
package history

import (
	"context"
	"errors"

	"goa.design/chatui/runtime/agent/model"
)

type (
	// Store persists chat histories.
	//
	// Implementations must preserve append order and be safe for concurrent
	// use. Loading an unknown chat returns an empty history, not an error.
	Store interface {
		// Load returns the messages of chatID in append order.
		Load(ctx context.Context, chatID string) ([]*model.Message, error)
		// Append adds msgs to the end of the history of chatID.
		Append(ctx context.Context, chatID string, msgs ...*model.Message) error
	}
)

// ErrChatIDRequired is returned by stores when called with an empty chat id.
var ErrChatIDRequired = errors.New("chat id is required")

// Recorder returns a function appending one message at a time to the history
// of chatID. It plugs into the stream translator history hook.
func Recorder(store Store, chatID string) func(context.Context, *model.Message) error {
	return func(ctx context.Context, msg *model.Message) error {
		if msg == nil {
			return nil
		}
		return store.Append(ctx, chatID, msg)
	}
}
