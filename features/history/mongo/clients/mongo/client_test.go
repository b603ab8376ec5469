package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/chatui/runtime/agent/model"
)

func TestEnsureIndexes(t *testing.T) {
	fc := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), fc))
	require.True(t, fc.indexCreated)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "mongo client is required")
}

func TestLoadMissingChatIsEmpty(t *testing.T) {
	msgs, err := mustNewTestClient().LoadChat(context.Background(), "chat")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestAppendAndLoadChat(t *testing.T) {
	cl := mustNewTestClient()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := cl.AppendMessages(ctx, "chat", []*model.Message{
		{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "weather?"}}, Timestamp: ts},
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "tc1", Name: "weather", Input: map[string]any{"city": "Paris"}}}},
	})
	require.NoError(t, err)
	require.NoError(t, cl.AppendMessages(ctx, "chat", []*model.Message{
		{Role: model.RoleUser, Parts: []model.Part{model.ToolResultPart{ToolUseID: "tc1", Name: "weather", Content: "sunny"}}},
	}))

	msgs, err := cl.LoadChat(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "weather?", msgs[0].Text())
	require.Equal(t, ts, msgs[0].Timestamp)
	require.NotZero(t, msgs[1].Timestamp)
	require.Equal(t, model.ToolUsePart{ID: "tc1", Name: "weather", Input: map[string]any{"city": "Paris"}}, msgs[1].Parts[0])
	require.Equal(t, model.ToolResultPart{ToolUseID: "tc1", Name: "weather", Content: "sunny"}, msgs[2].Parts[0])
}

func TestAppendSkipsEmptyBatch(t *testing.T) {
	fc := newFakeCollection()
	cl, err := newClientWithCollection(nil, fc, time.Second)
	require.NoError(t, err)
	require.NoError(t, cl.AppendMessages(context.Background(), "chat", nil))
	require.Zero(t, fc.updates)
}

func TestChatIDRequired(t *testing.T) {
	cl := mustNewTestClient()
	_, err := cl.LoadChat(context.Background(), "")
	require.EqualError(t, err, "chat id is required")
	err = cl.AppendMessages(context.Background(), "", []*model.Message{model.NewUserMessage("a")})
	require.EqualError(t, err, "chat id is required")
}

func TestCorruptPayloadFailsLoad(t *testing.T) {
	fc := newFakeCollection()
	fc.docs["chat"] = &chatDocument{ChatID: "chat", Messages: []messageDocument{{Role: "user", Payload: "{"}}}
	cl, err := newClientWithCollection(nil, fc, time.Second)
	require.NoError(t, err)
	_, err = cl.LoadChat(context.Background(), "chat")
	require.ErrorContains(t, err, "decode message 0")
}

func mustNewTestClient() *client {
	cl, err := newClientWithCollection(nil, newFakeCollection(), time.Second)
	if err != nil {
		panic(err)
	}
	return cl
}

// fakeCollection is a lightweight in-memory collection that mimics the subset
// of MongoDB behavior exercised by the client.
type fakeCollection struct {
	mu           sync.Mutex
	indexCreated bool
	updates      int
	docs         map[string]*chatDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]*chatDocument)}
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[docKey(filter)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	clone := *doc
	clone.Messages = append([]messageDocument(nil), doc.Messages...)
	return fakeSingleResult{doc: &clone}
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any,
	_ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	key := docKey(filter)
	doc, ok := c.docs[key]
	if !ok {
		doc = &chatDocument{ChatID: key}
		c.docs[key] = doc
	}
	up, _ := update.(bson.M)
	if set, ok := up["$set"].(bson.M); ok {
		if v, ok := set["updated_at"].(time.Time); ok {
			doc.UpdatedAt = v
		}
	}
	if push, ok := up["$push"].(bson.M); ok {
		if msgs, ok := push["messages"].(bson.M); ok {
			if each, ok := msgs["$each"].([]messageDocument); ok {
				doc.Messages = append(doc.Messages, each...)
			}
		}
	}
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{parent: c}
}

type fakeIndexView struct {
	parent *fakeCollection
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	v.parent.mu.Lock()
	v.parent.indexCreated = true
	v.parent.mu.Unlock()
	return "idx_chat", nil
}

type fakeSingleResult struct {
	doc *chatDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	dest, ok := val.(*chatDocument)
	if !ok {
		return errors.New("unsupported decode target")
	}
	*dest = *r.doc
	return nil
}

func docKey(filter any) string {
	m, _ := filter.(bson.M)
	id, _ := m["chat_id"].(string)
	return id
}
