package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite runs the behaviour every Store implementation must share.
// newStore must return an empty store.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"CreateGroupSeedsOwner", testCreateGroupSeedsOwner},
		{"CreateGroupWithoutCreator", testCreateGroupWithoutCreator},
		{"UpdateGroupNeverSeeds", testUpdateGroupNeverSeeds},
		{"MembershipUnique", testMembershipUnique},
		{"TitleUniquePerCreator", testTitleUniquePerCreator},
		{"RenameIntoTakenTitle", testRenameIntoTakenTitle},
		{"InvalidReferenceRollsBack", testInvalidReferenceRollsBack},
		{"GroupCategories", testGroupCategories},
		{"DeleteGroupCascades", testDeleteGroupCascades},
		{"CurrencyProtected", testCurrencyProtected},
		{"CurrencyCodeUnique", testCurrencyCodeUnique},
		{"CategoryParentSetNull", testCategoryParentSetNull},
		{"ListGroupsOrderedAndPaged", testListGroupsOrderedAndPaged},
		{"ListMembershipsFilters", testListMembershipsFilters},
		{"UpdateMembershipRole", testUpdateMembershipRole},
		{"NotFound", testNotFound},
		{"Users", testUsers},
		{"AuditEvents", testAuditEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func createTestUser(t *testing.T, s Store, username string) *User {
	t.Helper()
	u := &User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: "hash-" + username,
		Role:         "user",
		CreatedAt:    now(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u), "createTestUser(%s)", username)
	return u
}

func createTestCurrency(t *testing.T, s Store, code string) *Currency {
	t.Helper()
	c := &Currency{
		ID:        uuid.New().String(),
		Name:      code + " currency",
		Symbol:    "$",
		Code:      code,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	require.NoError(t, s.CreateCurrency(context.Background(), c), "createTestCurrency(%s)", code)
	return c
}

func createTestCategory(t *testing.T, s Store, name string, parentID *string) *Category {
	t.Helper()
	c := &Category{
		ID:        uuid.New().String(),
		Name:      name,
		ParentID:  parentID,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	require.NoError(t, s.CreateCategory(context.Background(), c), "createTestCategory(%s)", name)
	return c
}

func newTestGroup(title, currencyID string, creator *User) *Group {
	g := &Group{
		ID:         uuid.New().String(),
		Title:      title,
		CurrencyID: currencyID,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	if creator != nil {
		id := creator.ID
		g.CreatedBy = &id
	}
	return g
}

func createTestGroup(t *testing.T, s Store, title, currencyID string, creator *User) (*Group, *Membership) {
	t.Helper()
	g := newTestGroup(title, currencyID, creator)
	m, err := s.CreateGroup(context.Background(), g)
	require.NoError(t, err, "createTestGroup(%s)", title)
	return g, m
}

func createTestMembership(t *testing.T, s Store, userID, groupID string, role Role) *Membership {
	t.Helper()
	m := &Membership{
		ID:        uuid.New().String(),
		UserID:    userID,
		GroupID:   groupID,
		Role:      role,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	require.NoError(t, s.CreateMembership(context.Background(), m))
	return m
}

func testCreateGroupSeedsOwner(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")

	g, seeded := createTestGroup(t, s, "Trip", usd.ID, u1)
	require.NotNil(t, seeded)
	assert.Equal(t, RoleOwner, seeded.Role)
	assert.Equal(t, u1.ID, seeded.UserID)
	assert.Equal(t, g.ID, seeded.GroupID)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Trip", got.Title)
	assert.Equal(t, usd.ID, got.CurrencyID)
	require.NotNil(t, got.CreatedBy)
	assert.Equal(t, u1.ID, *got.CreatedBy)
	assert.Nil(t, got.UpdatedBy)

	ms, total, err := s.ListMemberships(ctx, MembershipFilter{GroupID: g.ID, UserID: u1.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, ms, 1)
	assert.Equal(t, RoleOwner, ms[0].Role)
}

func testCreateGroupWithoutCreator(t *testing.T, s Store) {
	ctx := context.Background()
	usd := createTestCurrency(t, s, "USD")

	g, seeded := createTestGroup(t, s, "Orphan", usd.ID, nil)
	assert.Nil(t, seeded)

	n, err := s.CountMemberships(ctx, g.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testUpdateGroupNeverSeeds(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")
	g, seeded := createTestGroup(t, s, "Trip", usd.ID, u1)

	g.Title = "Trip 2024"
	g.UpdatedBy = &u1.ID
	g.UpdatedAt = now()
	require.NoError(t, s.UpdateGroup(ctx, g))

	n, err := s.CountMemberships(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Even with no memberships left, an update does not restore the owner.
	require.NoError(t, s.DeleteMembership(ctx, seeded.ID))
	g.Description = strPtr("renamed again")
	require.NoError(t, s.UpdateGroup(ctx, g))

	n, err = s.CountMemberships(ctx, g.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip 2024", got.Title)
	require.NotNil(t, got.UpdatedBy)
	assert.Equal(t, u1.ID, *got.UpdatedBy)
}

func testMembershipUnique(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	u2 := createTestUser(t, s, "u2")
	usd := createTestCurrency(t, s, "USD")
	g, seeded := createTestGroup(t, s, "Trip", usd.ID, u1)

	dup := &Membership{ID: uuid.New().String(), UserID: u1.ID, GroupID: g.ID, Role: RoleMember, CreatedAt: now(), UpdatedAt: now()}
	assert.ErrorIs(t, s.CreateMembership(ctx, dup), ErrDuplicateMembership)

	createTestMembership(t, s, u2.ID, g.ID, RoleMember)
	again := &Membership{ID: uuid.New().String(), UserID: u2.ID, GroupID: g.ID, Role: RoleAdmin, CreatedAt: now(), UpdatedAt: now()}
	assert.ErrorIs(t, s.CreateMembership(ctx, again), ErrDuplicateMembership)

	// The existing row is untouched.
	m, err := s.GetMembership(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, m.Role)
	m2, err := s.GetMembershipFor(ctx, u2.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, m2.Role)

	n, err := s.CountMemberships(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testTitleUniquePerCreator(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	u2 := createTestUser(t, s, "u2")
	usd := createTestCurrency(t, s, "USD")

	createTestGroup(t, s, "Trip", usd.ID, u1)

	taken, err := s.GroupTitleTaken(ctx, "tRiP", u1.ID)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = s.GroupTitleTaken(ctx, "Trip", u2.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	dup := newTestGroup("TRIP", usd.ID, u1)
	seeded, err := s.CreateGroup(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateTitle)
	assert.Nil(t, seeded)

	got, err := s.GetGroup(ctx, dup.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "failed create must not persist the group")

	_, total, err := s.ListMemberships(ctx, MembershipFilter{UserID: u1.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "failed create must not seed a membership")

	createTestGroup(t, s, "Trip", usd.ID, u2)

	createTestGroup(t, s, "Café", usd.ID, u1)
	taken, err = s.GroupTitleTaken(ctx, "CAFÉ", u1.ID)
	require.NoError(t, err)
	assert.True(t, taken, "non-ASCII titles fold case")
	_, err = s.CreateGroup(ctx, newTestGroup("CAFÉ", usd.ID, u1))
	assert.ErrorIs(t, err, ErrDuplicateTitle)
	createTestGroup(t, s, "CAFÉ", usd.ID, u2)
}

func testRenameIntoTakenTitle(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")
	createTestGroup(t, s, "Trip", usd.ID, u1)
	g, _ := createTestGroup(t, s, "Flat", usd.ID, u1)

	g.Title = "trip"
	assert.ErrorIs(t, s.UpdateGroup(ctx, g), ErrDuplicateTitle)

	createTestGroup(t, s, "Straße", usd.ID, u1)
	g.Title = "STRASSE"
	assert.ErrorIs(t, s.UpdateGroup(ctx, g), ErrDuplicateTitle)
}

func testInvalidReferenceRollsBack(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")

	g := newTestGroup("Trip", uuid.New().String(), u1)
	_, err := s.CreateGroup(ctx, g)
	assert.ErrorIs(t, err, ErrInvalidReference)

	g = newTestGroup("Trip", usd.ID, u1)
	g.CategoryIDs = []string{uuid.New().String()}
	_, err = s.CreateGroup(ctx, g)
	assert.ErrorIs(t, err, ErrInvalidReference)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	m := &Membership{ID: uuid.New().String(), UserID: u1.ID, GroupID: uuid.New().String(), Role: RoleMember, CreatedAt: now(), UpdatedAt: now()}
	assert.ErrorIs(t, s.CreateMembership(ctx, m), ErrInvalidReference)
}

func testGroupCategories(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")
	food := createTestCategory(t, s, "Food", nil)
	travel := createTestCategory(t, s, "Travel", nil)

	g := newTestGroup("Trip", usd.ID, u1)
	g.CategoryIDs = []string{food.ID, travel.ID, food.ID}
	_, err := s.CreateGroup(ctx, g)
	require.NoError(t, err)

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{food.ID, travel.ID}, got.CategoryIDs)

	got.CategoryIDs = []string{travel.ID}
	require.NoError(t, s.UpdateGroup(ctx, got))

	got, err = s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{travel.ID}, got.CategoryIDs)

	require.NoError(t, s.DeleteCategory(ctx, travel.ID))
	got, err = s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CategoryIDs)
}

func testDeleteGroupCascades(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	u2 := createTestUser(t, s, "u2")
	usd := createTestCurrency(t, s, "USD")
	g, seeded := createTestGroup(t, s, "Trip", usd.ID, u1)
	other := createTestMembership(t, s, u2.ID, g.ID, RoleMember)

	require.NoError(t, s.DeleteGroup(ctx, g.ID))

	for _, id := range []string{seeded.ID, other.ID} {
		m, err := s.GetMembership(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, m)
	}
	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testCurrencyProtected(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")
	g, _ := createTestGroup(t, s, "Trip", usd.ID, u1)

	assert.ErrorIs(t, s.DeleteCurrency(ctx, usd.ID), ErrCurrencyProtected)

	require.NoError(t, s.DeleteGroup(ctx, g.ID))
	require.NoError(t, s.DeleteCurrency(ctx, usd.ID))
	c, err := s.GetCurrency(ctx, usd.ID)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func testCurrencyCodeUnique(t *testing.T, s Store) {
	ctx := context.Background()
	createTestCurrency(t, s, "USD")
	eur := createTestCurrency(t, s, "EUR")

	dup := &Currency{ID: uuid.New().String(), Name: "Dollar", Symbol: "$", Code: "USD", CreatedAt: now(), UpdatedAt: now()}
	assert.ErrorIs(t, s.CreateCurrency(ctx, dup), ErrDuplicateCurrencyCode)

	eur.Code = "USD"
	assert.ErrorIs(t, s.UpdateCurrency(ctx, eur), ErrDuplicateCurrencyCode)

	list, total, err := s.ListCurrencies(ctx, Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, "EUR", list[0].Code)
}

func testCategoryParentSetNull(t *testing.T, s Store) {
	ctx := context.Background()
	parent := createTestCategory(t, s, "Food", nil)
	child := createTestCategory(t, s, "Groceries", &parent.ID)

	got, err := s.GetCategory(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, parent.ID, *got.ParentID)

	require.NoError(t, s.DeleteCategory(ctx, parent.ID))

	got, err = s.GetCategory(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.ParentID)

	bad := &Category{ID: uuid.New().String(), Name: "Orphan", ParentID: strPtr(uuid.New().String()), CreatedAt: now(), UpdatedAt: now()}
	assert.ErrorIs(t, s.CreateCategory(ctx, bad), ErrInvalidReference)
}

func testListGroupsOrderedAndPaged(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")
	for _, title := range []string{"Charlie", "Alpha", "Bravo"} {
		createTestGroup(t, s, title, usd.ID, u1)
	}

	groups, total, err := s.ListGroups(ctx, Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, groups, 2)
	assert.Equal(t, "Alpha", groups[0].Title)
	assert.Equal(t, "Bravo", groups[1].Title)

	groups, _, err = s.ListGroups(ctx, Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Charlie", groups[0].Title)
}

func testListMembershipsFilters(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	u2 := createTestUser(t, s, "u2")
	usd := createTestCurrency(t, s, "USD")
	g1, _ := createTestGroup(t, s, "Trip", usd.ID, u1)
	g2, _ := createTestGroup(t, s, "Flat", usd.ID, u2)
	createTestMembership(t, s, u2.ID, g1.ID, RoleAdmin)

	_, total, err := s.ListMemberships(ctx, MembershipFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	ms, total, err := s.ListMemberships(ctx, MembershipFilter{GroupID: g1.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, ms, 2)

	ms, total, err = s.ListMemberships(ctx, MembershipFilter{UserID: u2.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, m := range ms {
		assert.Equal(t, u2.ID, m.UserID)
	}

	ms, _, err = s.ListMemberships(ctx, MembershipFilter{GroupID: g2.ID, UserID: u2.ID})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, RoleOwner, ms[0].Role)
}

func testUpdateMembershipRole(t *testing.T, s Store) {
	ctx := context.Background()
	u1 := createTestUser(t, s, "u1")
	usd := createTestCurrency(t, s, "USD")
	_, seeded := createTestGroup(t, s, "Trip", usd.ID, u1)

	// Demoting the only owner is allowed.
	seeded.Role = RoleMember
	seeded.UpdatedAt = now()
	require.NoError(t, s.UpdateMembership(ctx, seeded))

	m, err := s.GetMembership(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, m.Role)

	seeded.Role = Role("superuser")
	assert.Error(t, s.UpdateMembership(ctx, seeded))
}

func testNotFound(t *testing.T, s Store) {
	ctx := context.Background()
	missing := uuid.New().String()

	assert.ErrorIs(t, s.DeleteGroup(ctx, missing), ErrNotFound)
	assert.ErrorIs(t, s.DeleteMembership(ctx, missing), ErrNotFound)
	assert.ErrorIs(t, s.DeleteCurrency(ctx, missing), ErrNotFound)
	assert.ErrorIs(t, s.DeleteCategory(ctx, missing), ErrNotFound)
	assert.ErrorIs(t, s.UpdateMembership(ctx, &Membership{ID: missing, Role: RoleAdmin}), ErrNotFound)
	assert.ErrorIs(t, s.UpdateCurrency(ctx, &Currency{ID: missing, Code: "XXX"}), ErrNotFound)

	g, err := s.GetGroup(ctx, missing)
	require.NoError(t, err)
	assert.Nil(t, g)
	m, err := s.GetMembershipFor(ctx, missing, missing)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	alice := createTestUser(t, s, "alice")

	dup := &User{ID: uuid.New().String(), Username: "alice", CreatedAt: now()}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrDuplicateUser)

	ext := &User{ID: uuid.New().String(), ExternalID: "auth0|123", Username: "auth0.123", Role: "user", CreatedAt: now()}
	require.NoError(t, s.CreateUser(ctx, ext))

	got, err := s.GetUserByExternalID(ctx, "auth0|123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ext.ID, got.ID)

	got, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.Empty(t, got.ExternalID)

	got, err = s.GetUserByID(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, got)

	users, total, err := s.ListUsers(ctx, Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
}

func testAuditEvents(t *testing.T, s Store) {
	ctx := context.Background()
	groupID := uuid.New().String()
	old := &AuditEvent{ID: uuid.New().String(), Action: "group.create", UserID: "u1", GroupID: groupID, CreatedAt: now().Add(-48 * time.Hour)}
	recent := &AuditEvent{
		ID:        uuid.New().String(),
		Action:    "membership.update",
		UserID:    "u2",
		GroupID:   groupID,
		Detail:    json.RawMessage(`{"role":"admin"}`),
		CreatedAt: now(),
	}
	require.NoError(t, s.LogAuditEvent(ctx, old))
	require.NoError(t, s.LogAuditEvent(ctx, recent))

	events, err := s.ListAuditEvents(ctx, AuditFilter{GroupID: groupID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, recent.ID, events[0].ID, "newest first")
	assert.JSONEq(t, `{"role":"admin"}`, string(events[0].Detail))

	events, err = s.ListAuditEvents(ctx, AuditFilter{Action: "group."})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, old.ID, events[0].ID)

	for _, action := range []string{"group_", "g%", "GROUP.", "membership.update.extra"} {
		events, err = s.ListAuditEvents(ctx, AuditFilter{Action: action})
		require.NoError(t, err)
		assert.Empty(t, events, "action filter %q must match literally", action)
	}
	events, err = s.ListAuditEvents(ctx, AuditFilter{Action: "membership.update"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	n, err := s.PurgeOldAuditEvents(ctx, now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	events, err = s.ListAuditEvents(ctx, AuditFilter{UserID: "u2"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func strPtr(s string) *string { return &s }
