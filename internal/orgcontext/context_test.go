package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestOrgIDFromContext(t *testing.T) {
	_, ok := OrgIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithOrgID(context.Background(), 42)
	id, ok := OrgIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(42), id)

	ctx = context.WithValue(context.Background(), OrgContextKey{}, "77")
	id, ok = OrgIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(77), id)

	_, ok = OrgIDFromContext(WithOrgID(context.Background(), 0))
	assert.False(t, ok)
}

func TestActorIDFromContext(t *testing.T) {
	ctx := WithActorID(WithOrgID(context.Background(), 1), 9)
	actor, ok := ActorIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(9), actor)

	org, _ := OrgIDFromContext(ctx)
	assert.Equal(t, snowflake.ID(1), org)
}
