package jobs_api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/BearBump/CourierSync/internal/apperr"
	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	ErrorCode  string `json:"errorCode"`
	Suggestion string `json:"suggestion,omitempty"`
}

// decode reads a JSON body into v. Job endpoints accept an empty body.
func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	err := dec.Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, apperr.Validation(apperr.CodeInvalidInput, "invalid JSON body: "+err.Error(), "send a JSON object"))
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	status := apperr.HTTPStatus(e)
	msg := e.Message
	if e.Kind == apperr.KindInternal {
		slog.Error("request failed", "error", err.Error())
	} else if e.Err != nil {
		msg = e.Message + ": " + e.Err.Error()
	}
	writeJSON(w, status, errorBody{
		Success:    false,
		Error:      msg,
		ErrorCode:  string(e.Code),
		Suggestion: e.Suggestion,
	})
}
