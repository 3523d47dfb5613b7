package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"fetched.identities", "fetched.identities", true},
		{"fetched.*", "fetched.identities", true},
		{"fetched.*", "fetched.groups", true},
		{"fetched.*", "processed.identities", false},
		{"vendor-x.sync.*", "vendor-x.sync.identities", true},
		{"vendor-x.sync.*", "vendor-y.sync.identities", false},
		{"*.sync.identities", "vendor-x.sync.identities", true},
		// Segment counts must agree: a two-segment pattern never matches a
		// three-segment topic.
		{"fetched.*", "vendor-x.fetched.identities", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, TopicMatches(tt.pattern, tt.topic))
		})
	}
}

func TestMemory_PublishDeliversToMatchingSubscribers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var fetched, processed []*types.Envelope
	require.NoError(t, m.Subscribe(ctx, "fetched.*", func(_ context.Context, env *types.Envelope) {
		fetched = append(fetched, env)
	}))
	require.NoError(t, m.Subscribe(ctx, "processed.*", func(_ context.Context, env *types.Envelope) {
		processed = append(processed, env)
	}))

	env, err := types.NewEnvelope(types.StageFetched, "tenant-1", "vendor-x", types.EntityIdentity,
		types.FetchedPayload{SyncID: "s1"})
	require.NoError(t, err)
	require.NoError(t, m.Publish(ctx, env))

	assert.Len(t, fetched, 1)
	assert.Empty(t, processed)
	assert.Len(t, m.PublishedOn("fetched.*"), 1)
}

func TestMemory_RejectsInvalidEnvelope(t *testing.T) {
	m := NewMemory()
	err := m.Publish(context.Background(), &types.Envelope{})
	assert.Error(t, err)
}
