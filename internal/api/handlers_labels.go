package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
	"github.com/AgentMesh-Net/labeler-go/internal/ledger"
	"github.com/AgentMesh-Net/labeler-go/internal/store"
	"github.com/AgentMesh-Net/labeler-go/internal/util"
)

type queryLabelsResponse struct {
	Cursor string        `json:"cursor,omitempty"`
	Labels []label.Label `json:"labels"`
}

// QueryLabels handles GET /xrpc/com.atproto.label.queryLabels.
func (h *handlers) QueryLabels(w http.ResponseWriter, r *http.Request) {
	var patterns []string
	for _, p := range r.URL.Query()["uriPatterns"] {
		for _, s := range strings.Split(p, ",") {
			if s = strings.TrimSpace(s); s != "" {
				patterns = append(patterns, s)
			}
		}
	}
	if len(patterns) == 0 {
		util.WriteError(w, http.StatusBadRequest, "InvalidRequest", "uriPatterns is required")
		return
	}
	cursor := util.ParseSeqCursor(r)
	limit := util.ParseLimit(r, store.DefaultQueryLimit, h.maxLimit)

	seen := make(map[int64]bool)
	var rows []store.LabelRow
	for _, p := range patterns {
		q := ledger.Query{Subject: p, Cursor: cursor, Limit: limit}
		if strings.HasSuffix(p, "*") {
			q.Subject, q.Prefix = strings.TrimSuffix(p, "*"), true
		}
		page, err := h.ledger.Query(r.Context(), q)
		if err != nil {
			h.logger.Error("query labels", "pattern", p, "err", err)
			util.WriteError(w, http.StatusInternalServerError, "InternalServerError", "query failed")
			return
		}
		for _, row := range page.Rows {
			if !seen[row.Seq] {
				seen[row.Seq] = true
				rows = append(rows, row)
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq > rows[j].Seq })
	if len(rows) > limit {
		rows = rows[:limit]
	}

	resp := queryLabelsResponse{Labels: make([]label.Label, 0, len(rows))}
	var maxSeq int64
	for _, row := range rows {
		if row.Seq > maxSeq {
			maxSeq = row.Seq
		}
		l := ledger.RowLabel(row)
		if len(l.Sig) == 0 {
			signed, err := h.signer.Sign(l)
			if err != nil {
				h.logger.Error("re-sign label", "subject", row.URI, "value", row.Val, "seq", row.Seq, "err", err)
				continue
			}
			l = signed
		}
		resp.Labels = append(resp.Labels, l)
	}
	resp.Cursor = util.EncodeSeqCursor(maxSeq)
	util.WriteJSON(w, http.StatusOK, resp)
}
