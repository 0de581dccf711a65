package mongostore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/fleetserve/servingplane/store/contract"
)

var (
	testClient    *mongo.Client
	testContainer testcontainers.Container
	skipTests     bool
)

func setupMongo() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		fmt.Printf("docker not available, mongostore tests will be skipped: %v\n", containerErr)
		skipTests = true
		return
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		skipTests = true
		return
	}
	port, err := testContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipTests = true
		return
	}
	if err := testClient.Ping(ctx, nil); err != nil {
		skipTests = true
		return
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testClient == nil && !skipTests {
		setupMongo()
	}
	if skipTests {
		t.Skip("docker not available, skipping mongostore test")
	}
	db := testClient.Database("servingplane_test_" + t.Name())
	require.NoError(t, db.Drop(context.Background()))
	return New(db)
}

func TestCreateSessionThenAddMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	userID := "user-1"
	sess, err := s.CreateSession(ctx, &userID, "hello there", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	require.NoError(t, s.AddMessage(ctx, sess.ID, contract.RoleUser, "hi", nil))
	require.NoError(t, s.AddMessage(ctx, sess.ID, contract.RoleAssistant, "hello!", map[string]any{"model": "default"}))

	roles, err := s.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []contract.Role{contract.RoleUser, contract.RoleAssistant}, roles)
}

func TestAnonymousSessionHasNilUserID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, nil, "guest chat", "anon-session-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
}

func TestEnsureIndexesIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureIndexes(ctx))
	require.NoError(t, s.EnsureIndexes(ctx))
}
