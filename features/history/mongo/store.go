package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/chatui/features/history/mongo/clients/mongo"
	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/chatui/history"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements history.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ history.Store = (*Store)(nil)

// NewStore builds a Mongo-backed history store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo is a helper that instantiates the underlying client using the given options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Load returns the messages of chatID.
func (s *Store) Load(ctx context.Context, chatID string) ([]*model.Message, error) {
	if chatID == "" {
		return nil, history.ErrChatIDRequired
	}
	return s.client.LoadChat(ctx, chatID)
}

// Append appends msgs to the history of chatID.
func (s *Store) Append(ctx context.Context, chatID string, msgs ...*model.Message) error {
	if chatID == "" {
		return history.ErrChatIDRequired
	}
	if len(msgs) == 0 {
		return nil
	}
	return s.client.AppendMessages(ctx, chatID, msgs)
}

// Name implements health.Pinger.
func (s *Store) Name() string { return s.client.Name() }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }
