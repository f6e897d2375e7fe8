package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/AgentMesh-Net/labeler-go/internal/fortune"
	"github.com/AgentMesh-Net/labeler-go/internal/reconcile"
	"github.com/AgentMesh-Net/labeler-go/internal/util"
)

// requireAdmin hides the admin routes unless a token is configured, and
// then requires it as a bearer token.
func (h *handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AdminToken == "" {
			util.WriteError(w, http.StatusNotFound, "not_found", "not found")
			return
		}
		tok, ok := util.BearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(h.cfg.AdminToken)) != 1 {
			util.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) PostReconcile(w http.ResponseWriter, r *http.Request) {
	h.startRun(w, "reconcile", h.engine.StartBatch(h.bg))
}

func (h *handlers) PostMigrate(w http.ResponseWriter, r *http.Request) {
	h.startRun(w, "migrate", h.engine.StartMigration(h.bg))
}

// RecordWriter stores a record in the labeler's own repository.
type RecordWriter interface {
	PutRecord(ctx context.Context, collection, rkey string, record any) (string, error)
}

// PostDeclare publishes the labeler declaration built from the value domain.
func (h *handlers) PostDeclare(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		util.WriteError(w, http.StatusServiceUnavailable, "unavailable", "no directory session configured")
		return
	}
	rec := h.table.ServiceRecord(h.now())
	uri, err := h.records.PutRecord(r.Context(), fortune.ServiceCollection, fortune.ServiceRKey, rec)
	if err != nil {
		h.logger.Error("declare labeler", "err", err)
		util.WriteError(w, http.StatusBadGateway, "upstream", err.Error())
		return
	}
	h.logger.Info("labeler declared", "uri", uri, "values", len(rec.Policies.LabelValues))
	util.WriteJSON(w, http.StatusOK, map[string]any{"uri": uri, "values": rec.Policies.LabelValues})
}

func (h *handlers) startRun(w http.ResponseWriter, kind string, err error) {
	switch {
	case errors.Is(err, reconcile.ErrBusy):
		util.WriteError(w, http.StatusConflict, "busy", "a run is already in progress")
	case err != nil:
		util.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		h.logger.Info("admin run started", "kind", kind)
		util.WriteJSON(w, http.StatusAccepted, map[string]any{"started": kind})
	}
}
