package identity

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeLifecycle(t *testing.T) {
	sc := NewScope(nil)

	_, err := sc.Actor()
	assert.ErrorIs(t, err, ErrUnauthorized, "new scope is signed out")

	sc.SignIn(Principal{UserID: "u1"})
	p, err := sc.Actor()
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)

	var order []string
	sc.OnSignOut(func() { order = append(order, "first") })
	sc.OnSignOut(func() { order = append(order, "second") })

	sc.SignOut()
	assert.Equal(t, []string{"second", "first"}, order)
	_, err = sc.Actor()
	assert.ErrorIs(t, err, ErrUnauthorized)

	sc.SignOut()
	assert.Len(t, order, 2, "second sign-out is a no-op")
}

func TestScopeSwitchUserRunsCleanups(t *testing.T) {
	sc := ForPrincipal(Principal{UserID: "u1"}, nil)
	ran := false
	sc.OnSignOut(func() { ran = true })

	sc.SignIn(Principal{UserID: "u1", Role: RoleAdmin})
	assert.False(t, ran, "refreshing the same user keeps hooks")

	sc.SignIn(Principal{UserID: "u2"})
	assert.True(t, ran, "switching user tears down the previous one")
}

func TestOnSignOutWhenSignedOut(t *testing.T) {
	ran := false
	NewScope(nil).OnSignOut(func() { ran = true })
	assert.True(t, ran)
}

func TestNilScopeIsUnauthorized(t *testing.T) {
	var sc *Scope
	_, err := sc.Actor()
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokens(t *testing.T) {
	tokens := NewTokens("secret", "vserve")

	signed, err := tokens.Issue(Principal{UserID: "u1", Email: "a@b.co", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	p, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "a@b.co", p.Email)
	assert.True(t, p.IsAdmin())
	assert.Equal(t, signed, p.Token)

	_, err = NewTokens("other", "vserve").Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := tokens.Issue(Principal{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = tokens.Verify(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAccessPolicy(t *testing.T) {
	owned := &docstore.Document{ID: "t1", Data: map[string]any{"user_id": "u1"}}
	user := WithPrincipal(context.Background(), Principal{UserID: "u1"})
	other := WithPrincipal(context.Background(), Principal{UserID: "u2"})
	admin := WithPrincipal(context.Background(), Principal{UserID: "a", Role: RoleAdmin})

	tests := []struct {
		name       string
		ctx        context.Context
		op         docstore.Op
		collection string
		id         string
		current    *docstore.Document
		allowed    bool
	}{
		{"no credentials", context.Background(), docstore.OpRead, models.CollectionChats, "u1", nil, false},
		{"own chats", user, docstore.OpWrite, models.CollectionChats, "u1", nil, true},
		{"foreign chats", other, docstore.OpRead, models.CollectionChats, "u1", nil, false},
		{"admin reads profile", admin, docstore.OpRead, models.CollectionChats, "u1", nil, true},
		{"admin cannot write chats", admin, docstore.OpWrite, models.CollectionChats, "u1", nil, false},
		{"list chats as user", user, docstore.OpRead, models.CollectionChats, "", nil, false},
		{"owner deletes ticket", user, docstore.OpDelete, models.CollectionTickets, "t1", owned, true},
		{"stranger deletes ticket", other, docstore.OpDelete, models.CollectionTickets, "t1", owned, false},
		{"admin deletes ticket", admin, docstore.OpDelete, models.CollectionTickets, "t1", owned, true},
		{"list tickets", other, docstore.OpRead, models.CollectionTickets, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AccessPolicy(tt.ctx, tt.op, tt.collection, tt.id, tt.current)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, docstore.ErrForbidden)
			}
		})
	}
}
