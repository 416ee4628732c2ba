package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/httputil"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditHandlers serves audit trail search and export, administrators only.
type AuditHandlers struct {
	recorder audit.Recorder
	resolver *authz.Resolver
}

// NewAuditHandlers creates the audit handler group.
func NewAuditHandlers(recorder audit.Recorder, resolver *authz.Resolver) *AuditHandlers {
	return &AuditHandlers{recorder: recorder, resolver: resolver}
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/v1/audit",
		h.resolver.Middleware(authz.RequireAdministrator(http.HandlerFunc(h.search)))).Methods("GET")
}

func (h *AuditHandlers) search(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	entries, err := h.recorder.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	format := audit.ExportFormat(httputil.ParseQueryString(r, "format", string(audit.ExportFormatJSON)))
	if format == audit.ExportFormatJSON {
		httputil.WriteSuccess(w, map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		})
		return
	}

	data, err := audit.Export(entries, format)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	switch format {
	case audit.ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	case audit.ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *AuditHandlers) parseFilter(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	filter := audit.Filter{
		ActorID:    httputil.ParseQueryString(r, "actor_id", ""),
		TargetID:   httputil.ParseQueryString(r, "target_id", ""),
		FacilityID: httputil.ParseQueryString(r, "facility_id", ""),
		Status:     audit.EventStatus(httputil.ParseQueryString(r, "status", "")),
	}

	if types := httputil.ParseQueryString(r, "event_type", ""); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
			}
		}
	}

	since, err := httputil.ParseQueryTime(r, "since")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return audit.Filter{}, false
	}
	if !since.IsZero() {
		filter.StartTime = &since
	}
	until, err := httputil.ParseQueryTime(r, "until")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return audit.Filter{}, false
	}
	if !until.IsZero() {
		filter.EndTime = &until
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultAuditLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return audit.Filter{}, false
	}
	if limit < 1 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	filter.Limit = limit

	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return audit.Filter{}, false
	}
	if offset < 0 {
		offset = 0
	}
	filter.Offset = offset

	return filter, true
}
