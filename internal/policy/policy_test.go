package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitify/splitify/internal/store"
)

type fakeMemberships map[[2]string]store.Role

func (f fakeMemberships) GetMembershipFor(_ context.Context, userID, groupID string) (*store.Membership, error) {
	role, ok := f[[2]string{userID, groupID}]
	if !ok {
		return nil, nil
	}
	return &store.Membership{UserID: userID, GroupID: groupID, Role: role}, nil
}

type failingLookup struct{ err error }

func (f failingLookup) GetMembershipFor(context.Context, string, string) (*store.Membership, error) {
	return nil, f.err
}

func TestAllowedTable(t *testing.T) {
	tests := []struct {
		role store.Role
		op   Operation
		want bool
	}{
		{store.RoleMember, OpRead, true},
		{store.RoleMember, OpCreate, true},
		{store.RoleMember, OpUpdate, false},
		{store.RoleMember, OpDelete, false},
		{store.RoleAdmin, OpRead, true},
		{store.RoleAdmin, OpUpdate, true},
		{store.RoleAdmin, OpDelete, false},
		{store.RoleOwner, OpRead, true},
		{store.RoleOwner, OpUpdate, true},
		{store.RoleOwner, OpDelete, true},
		{store.Role("superuser"), OpUpdate, false},
		{store.RoleOwner, Operation("archive"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.role, tt.op))
		})
	}
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	c := NewChecker(fakeMemberships{
		{"owner", "g1"}:  store.RoleOwner,
		{"admin", "g1"}:  store.RoleAdmin,
		{"member", "g1"}: store.RoleMember,
	})

	tests := []struct {
		user    string
		op      Operation
		allowed bool
	}{
		{"member", OpRead, true},
		{"member", OpUpdate, false},
		{"member", OpDelete, false},
		{"admin", OpUpdate, true},
		{"admin", OpDelete, false},
		{"owner", OpUpdate, true},
		{"owner", OpDelete, true},
		{"stranger", OpRead, true},
		{"stranger", OpCreate, true},
		{"stranger", OpUpdate, false},
		{"stranger", OpDelete, false},
		{"", OpUpdate, false},
	}
	for _, tt := range tests {
		t.Run(tt.user+"/"+string(tt.op), func(t *testing.T) {
			err := c.Authorize(ctx, tt.user, "g1", tt.op)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAuthorizeScopedToGroup(t *testing.T) {
	c := NewChecker(fakeMemberships{{"owner", "g1"}: store.RoleOwner})
	assert.ErrorIs(t, c.Authorize(context.Background(), "owner", "g2", OpDelete), ErrForbidden)
}

func TestAuthorizeLookupError(t *testing.T) {
	boom := errors.New("db down")
	c := NewChecker(failingLookup{err: boom})

	err := c.Authorize(context.Background(), "u1", "g1", OpUpdate)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrForbidden)

	// Open operations never touch the store.
	assert.NoError(t, c.Authorize(context.Background(), "u1", "g1", OpRead))
}

// A member gains update rights once promoted to admin, but still cannot
// delete the group.
func TestPromotedMemberCanUpdate(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	u1 := &store.User{ID: "u1", Username: "u1", Role: "user"}
	u2 := &store.User{ID: "u2", Username: "u2", Role: "user"}
	require.NoError(t, s.CreateUser(ctx, u1))
	require.NoError(t, s.CreateUser(ctx, u2))
	usd := &store.Currency{ID: "usd", Name: "US Dollar", Symbol: "$", Code: "USD"}
	require.NoError(t, s.CreateCurrency(ctx, usd))
	creator := u1.ID
	g := &store.Group{ID: "g", Title: "Trip", CurrencyID: usd.ID, CreatedBy: &creator}
	_, err = s.CreateGroup(ctx, g)
	require.NoError(t, err)

	m := &store.Membership{ID: "m2", UserID: u2.ID, GroupID: g.ID, Role: store.RoleMember}
	require.NoError(t, s.CreateMembership(ctx, m))

	c := NewChecker(s)
	assert.ErrorIs(t, c.Authorize(ctx, u2.ID, g.ID, OpDelete), ErrForbidden)
	assert.ErrorIs(t, c.Authorize(ctx, u2.ID, g.ID, OpUpdate), ErrForbidden)

	require.NoError(t, c.Authorize(ctx, u1.ID, g.ID, OpUpdate))
	m.Role = store.RoleAdmin
	require.NoError(t, s.UpdateMembership(ctx, m))

	assert.NoError(t, c.Authorize(ctx, u2.ID, g.ID, OpUpdate))
	assert.ErrorIs(t, c.Authorize(ctx, u2.ID, g.ID, OpDelete), ErrForbidden)
	assert.NoError(t, c.Authorize(ctx, u1.ID, g.ID, OpDelete))
}
