package api

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/AgentMesh-Net/labeler-go/internal/util"
)

func (h *handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type valueInfo struct {
	Val  string `json:"val"`
	Name string `json:"name"`
}

func (h *handlers) GetInfo(w http.ResponseWriter, r *http.Request) {
	var values []valueInfo
	for _, d := range h.table.Defs() {
		values = append(values, valueInfo{Val: d.Val, Name: d.Name})
	}
	resp := map[string]any{
		"name":         "labeler",
		"version":      "0.1",
		"issuer":       h.signer.Issuer(),
		"public_key":   hex.EncodeToString(h.signer.PublicKey()),
		"service_time": h.now().UTC().Format(time.RFC3339),
		"subscribers":  h.pub.SubscriberCount(),
		"capabilities": map[string]any{
			"values":         values,
			"override_tz":    h.table.Location().String(),
			"signature_algo": "secp256k1-sha256",
			"encoding":       "dag-cbor",
		},
	}
	util.WriteJSON(w, http.StatusOK, resp)
}
