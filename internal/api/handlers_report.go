package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/AgentMesh-Net/labeler-go/internal/core/canonicaljson"
	"github.com/AgentMesh-Net/labeler-go/internal/util"
)

type reportSubject struct {
	Type string `json:"$type"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
	CID  string `json:"cid,omitempty"`
}

type reportInput struct {
	ReasonType string          `json:"reasonType"`
	Reason     string          `json:"reason,omitempty"`
	Subject    json.RawMessage `json:"subject"`
}

type reportOutput struct {
	ID         int64           `json:"id"`
	CreatedAt  string          `json:"createdAt"`
	Reason     string          `json:"reason,omitempty"`
	ReasonType string          `json:"reasonType"`
	ReportedBy string          `json:"reportedBy"`
	Subject    json.RawMessage `json:"subject"`
}

// CreateReport handles POST /xrpc/com.atproto.moderation.createReport. A
// reason naming a domain value pins that value on the reported account;
// the report itself is acknowledged either way.
func (h *handlers) CreateReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "InvalidRequest", "failed to read body")
		return
	}
	if int64(len(body)) > h.maxBody {
		util.WriteError(w, http.StatusRequestEntityTooLarge, "InvalidRequest", "body too large")
		return
	}

	var in reportInput
	if err := json.Unmarshal(body, &in); err != nil {
		util.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON: "+err.Error())
		return
	}
	var subj reportSubject
	if len(in.Subject) == 0 || json.Unmarshal(in.Subject, &subj) != nil {
		util.WriteError(w, http.StatusBadRequest, "InvalidRequest", "subject is required")
		return
	}
	id, err := canonicaljson.FingerprintID(body)
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	if in.Reason != "" {
		h.applyReportOverride(in.Reason, subj)
	}

	util.WriteJSON(w, http.StatusOK, reportOutput{
		ID:         id,
		CreatedAt:  h.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Reason:     in.Reason,
		ReasonType: in.ReasonType,
		ReportedBy: h.signer.Issuer(),
		Subject:    in.Subject,
	})
}

func (h *handlers) applyReportOverride(reason string, subj reportSubject) {
	value, ok := h.table.MatchKeyword(reason)
	if !ok {
		h.logger.Debug("report reason names no value")
		return
	}
	did, ok := subjectDID(subj)
	if !ok {
		h.logger.Info("report subject has no account", "type", subj.Type, "uri", subj.URI)
		return
	}
	h.logger.Info("report override", "subject", did, "value", value)
	h.async(func() {
		if _, err := h.labeler.Override(h.bg, did, value); err != nil {
			h.logger.Error("report override failed", "subject", did, "value", value, "err", err)
		}
	})
}

// subjectDID resolves the account a report targets: a repo ref's did, a
// bare DID in uri, or the authority of an at:// URI.
func subjectDID(s reportSubject) (string, bool) {
	if strings.HasPrefix(s.DID, "did:") {
		return s.DID, true
	}
	if strings.HasPrefix(s.URI, "did:") {
		return s.URI, true
	}
	if rest, ok := strings.CutPrefix(s.URI, "at://"); ok {
		authority, _, _ := strings.Cut(rest, "/")
		if strings.HasPrefix(authority, "did:") {
			return authority, true
		}
	}
	return "", false
}
