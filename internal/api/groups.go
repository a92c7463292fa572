package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/splitify/splitify/internal/feed"
	"github.com/splitify/splitify/internal/policy"
	"github.com/splitify/splitify/internal/store"
)

const maxGroupTitle = 255

type groupResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Currency    string    `json:"currency"`
	Categories  []string  `json:"categories"`
	Image       *string   `json:"image"`
	CreatedBy   *string   `json:"created_by"`
	UpdatedBy   *string   `json:"updated_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) groupJSON(r *http.Request, g *store.Group) groupResponse {
	cats := g.CategoryIDs
	if cats == nil {
		cats = []string{}
	}
	return groupResponse{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		Currency:    g.CurrencyID,
		Categories:  cats,
		Image:       s.media.url(r, g.Image),
		CreatedBy:   g.CreatedBy,
		UpdatedBy:   g.UpdatedBy,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

// bindGroup validates the request body and applies it to g. partial skips
// required checks for fields that were not sent.
func (s *Server) bindGroup(ctx context.Context, b *requestBody, g *store.Group, partial bool) (fieldErrors, *upload, error) {
	fe := fieldErrors{}

	if title, present, ok := requiredString(b, "title", maxGroupTitle, partial, fe); ok && present {
		g.Title = title
	}
	if desc, present := optionalString(b, "description", 0, fe); present && !fe.has("description") {
		g.Description = desc
	}

	currency, present := b.str("currency", fe)
	switch {
	case fe.has("currency"):
	case !present:
		if !partial {
			fe.add("currency", msgRequired)
		}
	case currency == nil:
		fe.add("currency", msgNull)
	case *currency == "":
		fe.add("currency", msgBlank)
	default:
		c, err := s.store.GetCurrency(ctx, *currency)
		if err != nil {
			return nil, nil, err
		}
		if c == nil {
			fe.add("currency", invalidPK(*currency))
		} else {
			g.CurrencyID = c.ID
		}
	}

	if ids, present := b.list("categories", fe); present && !fe.has("categories") {
		for _, id := range ids {
			c, err := s.store.GetCategory(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			if c == nil {
				fe.add("categories", invalidPK(id))
				break
			}
		}
		if !fe.has("categories") {
			g.CategoryIDs = ids
		}
	} else if !present && !partial {
		g.CategoryIDs = []string{}
	}

	img := b.file("image")
	if img == nil && b.has("image") {
		if v, _ := b.str("image", fe); v != nil && *v != "" {
			fe.add("image", "The submitted data was not a file. Check the encoding type on the form.")
		}
	}
	return fe, img, nil
}

// loadGroup fetches the group named in the URL and answers 404 when it does
// not exist.
func (s *Server) loadGroup(w http.ResponseWriter, r *http.Request) (*store.Group, bool) {
	g, err := s.store.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeStoreError(w, r, err, "load group")
		return nil, false
	}
	if g == nil {
		writeError(w, http.StatusNotFound, msgNotFound)
		return nil, false
	}
	return g, true
}

// storeImage saves an uploaded group image. It answers the request and
// returns false on failure.
func (s *Server) storeImage(w http.ResponseWriter, r *http.Request, dir, field string, up *upload) (*string, bool) {
	if up == nil {
		return nil, true
	}
	rel, err := s.media.save(dir, up)
	if err != nil {
		if errors.Is(err, errInvalidImage) {
			writeValidation(w, fieldErrors{field: {msgInvalidImage}})
			return nil, false
		}
		s.writeStoreError(w, r, err, "store image")
		return nil, false
	}
	return &rel, true
}

func (s *Server) dropMedia(rel *string) {
	if rel == nil {
		return
	}
	if err := s.media.remove(*rel); err != nil {
		s.logger.Warn("failed to remove media file", "path", *rel, "error", err)
	}
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgInvalidPage)
		return
	}
	groups, total, err := s.store.ListGroups(r.Context(), page.store())
	if err != nil {
		s.writeStoreError(w, r, err, "list groups")
		return
	}
	results := make([]groupResponse, len(groups))
	for i := range groups {
		results[i] = s.groupJSON(r, &groups[i])
	}
	writePage(w, r, page, total, results)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	ctx := r.Context()

	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}

	now := time.Now().UTC()
	g := &store.Group{
		ID:        uuid.New().String(),
		CreatedBy: &identity.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	fe, img, err := s.bindGroup(ctx, body, g, false)
	if err != nil {
		s.writeStoreError(w, r, err, "create group")
		return
	}
	if !fe.has("title") {
		taken, err := s.store.GroupTitleTaken(ctx, g.Title, identity.UserID)
		if err != nil {
			s.writeStoreError(w, r, err, "create group")
			return
		}
		if taken {
			fe.add("title", "A group with this title already exists for this user.")
		}
	}
	if !fe.empty() {
		writeValidation(w, fe)
		return
	}

	image, ok := s.storeImage(w, r, groupImagesDir, "image", img)
	if !ok {
		return
	}
	g.Image = image

	seeded, err := s.store.CreateGroup(ctx, g)
	if err != nil {
		s.dropMedia(image)
		s.writeStoreError(w, r, err, "create group")
		return
	}
	s.metrics.GroupCreated(seeded != nil)

	resp := s.groupJSON(r, g)
	s.audit(ctx, "group.create", identity.UserID, g.ID, map[string]string{"title": g.Title})
	s.publish(ctx, feed.NewEvent(feed.GroupCreated, g.ID, identity.UserID, resp))
	if seeded != nil {
		s.publish(ctx, feed.NewEvent(feed.MembershipCreated, g.ID, identity.UserID, seeded))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, g.ID, policy.OpRead) {
		return
	}
	writeJSON(w, http.StatusOK, s.groupJSON(r, g))
}

func (s *Server) handleUpdateGroup(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := getIdentityFromContext(r.Context())
		ctx := r.Context()

		g, ok := s.loadGroup(w, r)
		if !ok {
			return
		}
		if !s.authorize(w, r, g.ID, policy.OpUpdate) {
			return
		}

		body, err := s.readBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgMalformedBody)
			return
		}
		fe, img, err := s.bindGroup(ctx, body, g, partial)
		if err != nil {
			s.writeStoreError(w, r, err, "update group")
			return
		}
		if !fe.empty() {
			writeValidation(w, fe)
			return
		}

		oldImage := g.Image
		image, ok := s.storeImage(w, r, groupImagesDir, "image", img)
		if !ok {
			return
		}
		if image != nil {
			g.Image = image
		}
		g.UpdatedBy = &identity.UserID
		g.UpdatedAt = time.Now().UTC()

		if err := s.store.UpdateGroup(ctx, g); err != nil {
			s.dropMedia(image)
			s.writeStoreError(w, r, err, "update group")
			return
		}
		if image != nil {
			s.dropMedia(oldImage)
		}

		resp := s.groupJSON(r, g)
		s.audit(ctx, "group.update", identity.UserID, g.ID, map[string]bool{"partial": partial})
		s.publish(ctx, feed.NewEvent(feed.GroupUpdated, g.ID, identity.UserID, resp))
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	ctx := r.Context()

	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, g.ID, policy.OpDelete) {
		return
	}
	if err := s.store.DeleteGroup(ctx, g.ID); err != nil {
		s.writeStoreError(w, r, err, "delete group")
		return
	}
	s.dropMedia(g.Image)

	s.audit(ctx, "group.delete", identity.UserID, g.ID, map[string]string{"title": g.Title})
	s.publish(ctx, feed.NewEvent(feed.GroupDeleted, g.ID, identity.UserID, nil))
	w.WriteHeader(http.StatusNoContent)
}

// handleGroupEvents streams a group's activity over a WebSocket. Browsers
// cannot set headers on the upgrade request, so the token may also be passed
// as ?token=.
func (s *Server) handleGroupEvents(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r, true)
	if token == "" {
		writeError(w, http.StatusUnauthorized, msgNotAuthed)
		return
	}
	identity, err := s.authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), identityKey, identity))

	g, ok := s.loadGroup(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, g.ID, policy.OpRead) {
		return
	}
	s.streamer.Stream(w, r, g.ID)
}
