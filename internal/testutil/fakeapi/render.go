package fakeapi

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// detailResponse is FastAPI error body
type detailResponse struct {
	Detail any `json:"detail"`
}

func renderJSON(w http.ResponseWriter, data any) {
	jsonWithStatus(w, data, http.StatusOK)
}

func renderDetail(w http.ResponseWriter, detail string, code int) {
	jsonWithStatus(w, detailResponse{Detail: detail}, code)
}

// bind decodes JSON request body, renders 422 on failure like FastAPI does
func bind[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var value T

	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		jsonWithStatus(w, detailResponse{Detail: []map[string]any{
			{"loc": []string{"body"}, "msg": err.Error(), "type": "value_error.jsondecode"},
		}}, http.StatusUnprocessableEntity)
		return value, false
	}

	return value, true
}

// jsonWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
