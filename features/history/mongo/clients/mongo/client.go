// Package mongo implements the low-level MongoDB client used by the history store.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/chatui/runtime/agent/model"
)

const (
	defaultCollection = "chat_history"
	defaultTimeout    = 5 * time.Second
	clientName        = "history-mongo"
)

// Client exposes Mongo-backed operations for chat histories.
type Client interface {
	health.Pinger

	LoadChat(ctx context.Context, chatID string) ([]*model.Message, error)
	AppendMessages(ctx context.Context, chatID string, msgs []*model.Message) error
}

// Options configures the Mongo client implementation.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) LoadChat(ctx context.Context, chatID string) ([]*model.Message, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc chatDocument
	if err := c.coll.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return fromMessageDocuments(doc.Messages)
}

func (c *client) AppendMessages(ctx context.Context, chatID string, msgs []*model.Message) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs, err := toMessageDocuments(msgs, now)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"chat_id": chatID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"chat_id":    chatID,
			"created_at": now,
		},
		"$set": bson.M{
			"updated_at": now,
		},
		"$push": bson.M{
			"messages": bson.M{
				"$each": docs,
			},
		},
	}
	_, err = c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type chatDocument struct {
	ChatID    string            `bson:"chat_id"`
	Messages  []messageDocument `bson:"messages"`
	CreatedAt time.Time         `bson:"created_at,omitempty"`
	UpdatedAt time.Time         `bson:"updated_at,omitempty"`
}

// messageDocument stores a message as its JSON encoding: parts are
// polymorphic and their JSON form is the canonical one.
type messageDocument struct {
	Role      string    `bson:"role"`
	Timestamp time.Time `bson:"timestamp"`
	Payload   string    `bson:"payload"`
}

func toMessageDocuments(msgs []*model.Message, fallback time.Time) ([]messageDocument, error) {
	docs := make([]messageDocument, 0, len(msgs))
	for i, m := range msgs {
		if m == nil {
			continue
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode message %d: %w", i, err)
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = fallback
		}
		docs = append(docs, messageDocument{Role: string(m.Role), Timestamp: ts.UTC(), Payload: string(payload)})
	}
	return docs, nil
}

func fromMessageDocuments(docs []messageDocument) ([]*model.Message, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	msgs := make([]*model.Message, len(docs))
	for i, d := range docs {
		var m model.Message
		if err := json.Unmarshal([]byte(d.Payload), &m); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = d.Timestamp
		}
		msgs[i] = &m
	}
	return msgs, nil
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
