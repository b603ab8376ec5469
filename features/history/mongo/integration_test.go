package mongo

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	clientsmongo "goa.design/chatui/features/history/mongo/clients/mongo"
	"goa.design/chatui/runtime/agent/model"
)

// startMongo starts a disposable MongoDB container. The test is skipped when
// Docker is not available.
func startMongo(t *testing.T) *mongodriver.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}
	ctx := context.Background()

	var (
		container testcontainers.Container
		err       error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker not available: %v", r)
			}
		}()
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "mongo:7",
				ExposedPorts: []string{"27017/tcp"},
				WaitingFor:   wait.ForLog("Waiting for connections"),
				Tmpfs:        map[string]string{"/data/db": "rw"},
			},
			Started: true,
		})
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping MongoDB test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := mongodriver.Connect(options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", host, port.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	require.NoError(t, client.Ping(ctx, nil))
	return client
}

func TestMongoHistoryRoundTrip(t *testing.T) {
	client := startMongo(t)
	store, err := NewStoreFromMongo(clientsmongo.Options{Client: client, Database: "chatui_test", Collection: t.Name()})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	require.NoError(t, store.Append(ctx, "c1",
		model.NewUserMessage("first"),
		&model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "second"}}},
	))
	require.NoError(t, store.Append(ctx, "c1", model.NewUserMessage("third")))
	require.NoError(t, store.Append(ctx, "c2", model.NewUserMessage("other chat")))

	msgs, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, want := range []string{"first", "second", "third"} {
		require.Equal(t, want, msgs[i].Text())
	}
	require.Equal(t, model.RoleAssistant, msgs[1].Role)

	empty, err := store.Load(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, empty)

	// Reopening the store on the same collection sees the same history.
	reopened, err := NewStoreFromMongo(clientsmongo.Options{Client: client, Database: "chatui_test", Collection: t.Name()})
	require.NoError(t, err)
	again, err := reopened.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, again, 3)
}
