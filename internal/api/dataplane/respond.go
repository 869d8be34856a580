package dataplane

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/oriys/cloudcode/internal/domain"
)

const maxBodyBytes = 1 << 20

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the webhook error shape {"code": n, "error": msg}.
func writeError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "error": msg})
}

// decodeBody reads a JSON object body. Numbers are kept as json.Number and
// an empty body decodes to an empty map.
func decodeBody(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// writeInvalidJSON rejects a malformed request body.
func writeInvalidJSON(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, domain.CodeInvalidJSON, "invalid JSON body: "+err.Error())
}
