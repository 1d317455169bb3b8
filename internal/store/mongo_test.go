package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMongo connects to the server named by MODBOT_TEST_MONGO_URI and gives
// each test its own database.
func setupMongo(t *testing.T) *Store {
	uri := os.Getenv("MODBOT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MODBOT_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewMongoStore(ctx, MongoOptions{
		URI:        uri,
		Database:   fmt.Sprintf("modbot_test_%d", time.Now().UnixNano()),
		MaxRetries: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMongoStore(t *testing.T) {
	for _, tc := range repositoryContract {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, setupMongo(t))
		})
	}
}

func TestMemberUpdate(t *testing.T) {
	deadline := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	set, unset := memberUpdate(MemberPatch{
		Username:             ptr("dave"),
		VerificationPending:  ptr(true),
		VerificationDeadline: &deadline,
		ClearVerifiedAt:      true,
	})

	assert.Equal(t, "dave", set["username"])
	assert.Equal(t, true, set["verification_pending"])
	assert.Equal(t, deadline, set["verification_deadline"])
	assert.NotContains(t, set, "verified_at")
	assert.Contains(t, unset, "verified_at")
	assert.NotContains(t, set, "first_name")
}

func TestToDocument(t *testing.T) {
	doc, err := toDocument(NewGroupPolicy(-5, "Docs"))
	require.NoError(t, err)
	assert.Equal(t, int64(-5), doc["chat_id"])
	assert.Equal(t, "Docs", doc["title"])
	assert.Equal(t, true, doc["anti_link_enabled"])
	assert.NotContains(t, doc, "log_channel_id")
}
