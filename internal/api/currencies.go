package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/splitify/splitify/internal/store"
)

func bindCurrency(b *requestBody, c *store.Currency, partial bool) fieldErrors {
	fe := fieldErrors{}
	if v, present, ok := requiredString(b, "name", 50, partial, fe); ok && present {
		c.Name = v
	}
	if v, present, ok := requiredString(b, "symbol", 5, partial, fe); ok && present {
		c.Symbol = v
	}
	if v, present, ok := requiredString(b, "code", 5, partial, fe); ok && present {
		c.Code = v
	}
	return fe
}

func (s *Server) loadCurrency(w http.ResponseWriter, r *http.Request) (*store.Currency, bool) {
	c, err := s.store.GetCurrency(r.Context(), chi.URLParam(r, "currencyID"))
	if err != nil {
		s.writeStoreError(w, r, err, "load currency")
		return nil, false
	}
	if c == nil {
		writeError(w, http.StatusNotFound, msgNotFound)
		return nil, false
	}
	return c, true
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgInvalidPage)
		return
	}
	currencies, total, err := s.store.ListCurrencies(r.Context(), page.store())
	if err != nil {
		s.writeStoreError(w, r, err, "list currencies")
		return
	}
	if currencies == nil {
		currencies = []store.Currency{}
	}
	writePage(w, r, page, total, currencies)
}

func (s *Server) handleCreateCurrency(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}

	now := time.Now().UTC()
	c := &store.Currency{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now}
	if fe := bindCurrency(body, c, false); !fe.empty() {
		writeValidation(w, fe)
		return
	}
	if err := s.store.CreateCurrency(r.Context(), c); err != nil {
		s.writeStoreError(w, r, err, "create currency")
		return
	}
	s.audit(r.Context(), "currency.create", identity.UserID, "", map[string]string{"currency_id": c.ID, "code": c.Code})
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCurrency(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadCurrency(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCurrency(partial bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := getIdentityFromContext(r.Context())
		c, ok := s.loadCurrency(w, r)
		if !ok {
			return
		}
		body, err := s.readBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, msgMalformedBody)
			return
		}
		if fe := bindCurrency(body, c, partial); !fe.empty() {
			writeValidation(w, fe)
			return
		}
		c.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateCurrency(r.Context(), c); err != nil {
			s.writeStoreError(w, r, err, "update currency")
			return
		}
		s.audit(r.Context(), "currency.update", identity.UserID, "", map[string]string{"currency_id": c.ID, "code": c.Code})
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) handleDeleteCurrency(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	c, ok := s.loadCurrency(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteCurrency(r.Context(), c.ID); err != nil {
		s.writeStoreError(w, r, err, "delete currency")
		return
	}
	s.audit(r.Context(), "currency.delete", identity.UserID, "", map[string]string{"currency_id": c.ID, "code": c.Code})
	w.WriteHeader(http.StatusNoContent)
}
