package redisobj

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethiopicuschan/zapcat/mbean"
)

func TestNewDisabled(t *testing.T) {
	s, err := New("", time.Minute, nil)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, s.Close())
}

func TestKeyIsCanonical(t *testing.T) {
	assert.Equal(t, KeyPrefix+"app:a=1,b=2", key("app:b=2,a=1"))
}

// TestStore needs a live Redis, named by ZAPCAT_TEST_REDIS (e.g.
// localhost:6379).
func TestStore(t *testing.T) {
	addr := os.Getenv("ZAPCAT_TEST_REDIS")
	if addr == "" {
		t.Skip("ZAPCAT_TEST_REDIS not set")
	}

	s, err := New(addr, time.Minute, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	name := "zapcat.test:type=Queue,name=" + t.Name()
	require.NoError(t, s.Publish(ctx, name, map[string]string{"Depth": "12"}))
	defer s.Remove(ctx, name)

	v, err := s.Attribute(ctx, name, "Depth")
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	_, err = s.Attribute(ctx, name, "Missing")
	assert.True(t, errors.Is(err, mbean.ErrAttributeNotFound))

	_, err = s.Attribute(ctx, "zapcat.test:type=Nothing", "Depth")
	assert.True(t, errors.Is(err, mbean.ErrInstanceNotFound))

	assert.Error(t, s.Publish(ctx, "bad name", map[string]string{"a": "b"}))
	assert.Error(t, s.Publish(ctx, name, nil))
}
