package api

import (
	"net/http"

	"github.com/splitify/splitify/internal/store"
)

func (s *Server) handleAdminListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 500)

	events, err := s.store.ListAuditEvents(r.Context(), store.AuditFilter{
		Action:  r.URL.Query().Get("action"),
		UserID:  r.URL.Query().Get("user_id"),
		GroupID: r.URL.Query().Get("group_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "list audit events")
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
