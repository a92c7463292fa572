package api

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/splitify/splitify/internal/store"
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type categoryResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Emoji           *string   `json:"emoji"`
	Icon            *string   `json:"icon"`
	BackgroundColor *string   `json:"background_color"`
	Parent          *string   `json:"parent"`
	IsMainCategory  bool      `json:"is_main_category"`
	IsSubcategory   bool      `json:"is_subcategory"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Server) categoryJSON(r *http.Request, c *store.Category) categoryResponse {
	return categoryResponse{
		ID:              c.ID,
		Name:            c.Name,
		Emoji:           c.Emoji,
		Icon:            s.media.url(r, c.Icon),
		BackgroundColor: c.BackgroundColor,
		Parent:          c.ParentID,
		IsMainCategory:  c.ParentID == nil,
		IsSubcategory:   c.ParentID != nil,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (s *Server) bindCategory(ctx context.Context, b *requestBody, c *store.Category, partial bool) (fieldErrors, *upload, error) {
	fe := fieldErrors{}
	if v, present, ok := requiredString(b, "name", 50, partial, fe); ok && present {
		c.Name = v
	}
	if v, present := optionalString(b, "emoji", 2, fe); present && !fe.has("emoji") {
		c.Emoji = v
	}
	if v, present := optionalString(b, "background_color", 7, fe); present && !fe.has("background_color") {
		if v != nil && !hexColor.MatchString(*v) {
			fe.add("background_color", "Enter a valid hex color, e.g. #000000.")
		} else {
			c.BackgroundColor = v
		}
	}

	parent, present := b.str("parent", fe)
	if present && !fe.has("parent") {
		if parent == nil || *parent == "" {
			c.ParentID = nil
		} else {
			cyclic, exists, err := s.wouldCycle(ctx, c.ID, *parent)
			if err != nil {
				return nil, nil, err
			}
			switch {
			case !exists:
				fe.add("parent", invalidPK(*parent))
			case cyclic:
				fe.add("parent", "A category cannot be its own ancestor.")
			default:
				c.ParentID = parent
			}
		}
	}

	return fe, b.file("icon"), nil
}

// wouldCycle walks up from parentID and reports whether id is among the
// ancestors, which would make the tree cyclic.
func (s *Server) wouldCycle(ctx context.Context, id, parentID string) (cyclic, exists bool, err error) {
	seen := map[string]bool{}
	cur := parentID
	for first := true; cur != ""; first = false {
		if cur == id {
			return true, true, nil
		}
		if seen[cur] {
			return true, true, nil
		}
		seen[cur] = true
		p, err := s.store.GetCategory(ctx, cur)
		if err != nil {
			return false, false, err
		}
		if p == nil {
			return false, !first, nil
		}
		if p.ParentID == nil {
			break
		}
		cur = *p.ParentID
	}
	return false, true, nil
}

func (s *Server) loadCategory(w http.ResponseWriter, r *http.Request) (*store.Category, bool) {
	c, err := s.store.GetCategory(r.Context(), chi.URLParam(r, "categoryID"))
	if err != nil {
		s.writeStoreError(w, r, err, "load category")
		return nil, false
	}
	if c == nil {
		writeError(w, http.StatusNotFound, msgNotFound)
		return nil, false
	}
	return c, true
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgInvalidPage)
		return
	}
	categories, total, err := s.store.ListCategories(r.Context(), page.store())
	if err != nil {
		s.writeStoreError(w, r, err, "list categories")
		return
	}
	results := make([]categoryResponse, len(categories))
	for i := range categories {
		results[i] = s.categoryJSON(r, &categories[i])
	}
	writePage(w, r, page, total, results)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}

	now := time.Now().UTC()
	c := &store.Category{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now}
	fe, icon, err := s.bindCategory(r.Context(), body, c, false)
	if err != nil {
		s.writeStoreError(w, r, err, "create category")
		return
	}
	if !fe.empty() {
		writeValidation(w, fe)
		return
	}
	iconPath, ok := s.storeImage(w, r, categoryIconsDir, "icon", icon)
	if !ok {
		return
	}
	c.Icon = iconPath

	if err := s.store.CreateCategory(r.Context(), c); err != nil {
		s.dropMedia(iconPath)
		s.writeStoreError(w, r, err, "create category")
		return
	}
	s.audit(r.Context(), "category.create", identity.UserID, "", map[string]string{"category_id": c.ID, "name": c.Name})
	writeJSON(w, http.StatusCreated, s.categoryJSON(r, c))
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCategory(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.categoryJSON(r, c))
}

func (s *Server) handleUpdateCategory(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := getIdentityFromContext(r.Context())
		c, ok := s.loadCategory(w, r)
		if !ok {
			return
		}
		body, err := s.readBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgMalformedBody)
			return
		}
		fe, icon, err := s.bindCategory(r.Context(), body, c, partial)
		if err != nil {
			s.writeStoreError(w, r, err, "update category")
			return
		}
		if !fe.empty() {
			writeValidation(w, fe)
			return
		}

		oldIcon := c.Icon
		iconPath, ok := s.storeImage(w, r, categoryIconsDir, "icon", icon)
		if !ok {
			return
		}
		if iconPath != nil {
			c.Icon = iconPath
		}
		c.UpdatedAt = time.Now().UTC()

		if err := s.store.UpdateCategory(r.Context(), c); err != nil {
			s.dropMedia(iconPath)
			s.writeStoreError(w, r, err, "update category")
			return
		}
		if iconPath != nil {
			s.dropMedia(oldIcon)
		}
		s.audit(r.Context(), "category.update", identity.UserID, "", map[string]string{"category_id": c.ID, "name": c.Name})
		writeJSON(w, http.StatusOK, s.categoryJSON(r, c))
	}
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	c, ok := s.loadCategory(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteCategory(r.Context(), c.ID); err != nil {
		s.writeStoreError(w, r, err, "delete category")
		return
	}
	s.dropMedia(c.Icon)
	s.audit(r.Context(), "category.delete", identity.UserID, "", map[string]string{"category_id": c.ID, "name": c.Name})
	w.WriteHeader(http.StatusNoContent)
}
