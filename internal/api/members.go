package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/splitify/splitify/internal/feed"
	"github.com/splitify/splitify/internal/policy"
	"github.com/splitify/splitify/internal/store"
)

// bindRole validates the role field. required controls whether a missing
// field is an error; otherwise def is returned.
func bindRole(b *requestBody, required bool, def store.Role, fe fieldErrors) store.Role {
	v, present := b.str("role", fe)
	switch {
	case fe.has("role"):
		return def
	case !present:
		if required {
			fe.add("role", msgRequired)
		}
		return def
	case v == nil:
		fe.add("role", msgNull)
		return def
	}
	role, err := store.ParseRole(*v)
	if err != nil {
		fe.add("role", fmt.Sprintf("%q is not a valid choice.", *v))
		return def
	}
	return role
}

// bindReference validates a required primary-key field. exists reports
// whether the referenced row is present.
func bindReference(b *requestBody, name string, fe fieldErrors, exists func(id string) (bool, error)) (string, error) {
	v, present := b.str(name, fe)
	switch {
	case fe.has(name):
		return "", nil
	case !present:
		fe.add(name, msgRequired)
		return "", nil
	case v == nil:
		fe.add(name, msgNull)
		return "", nil
	case *v == "":
		fe.add(name, msgBlank)
		return "", nil
	}
	ok, err := exists(*v)
	if err != nil {
		return "", err
	}
	if !ok {
		fe.add(name, invalidPK(*v))
	}
	return *v, nil
}

func (s *Server) loadMembership(w http.ResponseWriter, r *http.Request) (*store.Membership, bool) {
	m, err := s.store.GetMembership(r.Context(), chi.URLParam(r, "membershipID"))
	if err != nil {
		s.writeStoreError(w, r, err, "load membership")
		return nil, false
	}
	if m == nil {
		writeError(w, http.StatusNotFound, msgNotFound)
		return nil, false
	}
	return m, true
}

func (s *Server) handleListMemberships(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgInvalidPage)
		return
	}
	members, total, err := s.store.ListMemberships(r.Context(), store.MembershipFilter{
		GroupID: r.URL.Query().Get("group"),
		UserID:  r.URL.Query().Get("user"),
		Page:    page.store(),
	})
	if err != nil {
		s.writeStoreError(w, r, err, "list memberships")
		return
	}
	if members == nil {
		members = []store.Membership{}
	}
	writePage(w, r, page, total, members)
}

func (s *Server) handleCreateMembership(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	ctx := r.Context()

	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}

	fe := fieldErrors{}
	userID, err := bindReference(body, "user", fe, func(id string) (bool, error) {
		u, err := s.store.GetUserByID(ctx, id)
		return u != nil, err
	})
	if err != nil {
		s.writeStoreError(w, r, err, "create membership")
		return
	}
	groupID, err := bindReference(body, "group", fe, func(id string) (bool, error) {
		g, err := s.store.GetGroup(ctx, id)
		return g != nil, err
	})
	if err != nil {
		s.writeStoreError(w, r, err, "create membership")
		return
	}
	role := bindRole(body, false, store.RoleMember, fe)
	if !fe.empty() {
		writeValidation(w, fe)
		return
	}

	if !s.authorize(w, r, groupID, policy.OpUpdate) {
		return
	}

	now := time.Now().UTC()
	m := &store.Membership{
		ID:        uuid.New().String(),
		UserID:    userID,
		GroupID:   groupID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		s.writeStoreError(w, r, err, "create membership")
		return
	}

	s.recordMembership(ctx, "membership.create", feed.MembershipCreated, identity.UserID, m)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMembership(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadMembership(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m.GroupID, policy.OpRead) {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleUpdateMembership changes a member's role. user and group are fixed
// once the membership exists and are ignored if sent.
func (s *Server) handleUpdateMembership(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := getIdentityFromContext(r.Context())
		ctx := r.Context()

		m, ok := s.loadMembership(w, r)
		if !ok {
			return
		}
		if !s.authorize(w, r, m.GroupID, policy.OpUpdate) {
			return
		}

		body, err := s.readBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgMalformedBody)
			return
		}
		fe := fieldErrors{}
		previous := m.Role
		m.Role = bindRole(body, !partial, m.Role, fe)
		if !fe.empty() {
			writeValidation(w, fe)
			return
		}

		m.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateMembership(ctx, m); err != nil {
			s.writeStoreError(w, r, err, "update membership")
			return
		}

		if previous != m.Role {
			s.logger.Info("membership role changed",
				"membership_id", m.ID, "group_id", m.GroupID, "from", previous, "to", m.Role)
		}
		s.recordMembership(ctx, "membership.update", feed.MembershipUpdated, identity.UserID, m)
		writeJSON(w, http.StatusOK, m)
	}
}

// handleDeleteMembership removes a membership. Members may always remove
// their own membership; anyone else needs update rights on the group.
func (s *Server) handleDeleteMembership(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	ctx := r.Context()

	m, ok := s.loadMembership(w, r)
	if !ok {
		return
	}
	if m.UserID != identity.UserID && !s.authorize(w, r, m.GroupID, policy.OpUpdate) {
		return
	}
	if err := s.store.DeleteMembership(ctx, m.ID); err != nil {
		s.writeStoreError(w, r, err, "delete membership")
		return
	}

	s.recordMembership(ctx, "membership.delete", feed.MembershipDeleted, identity.UserID, m)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recordMembership(ctx context.Context, action, eventType, actorID string, m *store.Membership) {
	s.audit(ctx, action, actorID, m.GroupID, map[string]string{
		"membership_id": m.ID,
		"user_id":       m.UserID,
		"role":          string(m.Role),
	})
	s.publish(ctx, feed.NewEvent(eventType, m.GroupID, actorID, m))
}
