package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/logging"

	"go.uber.org/zap"
)

// codeRequestInvalid reports a malformed path, query or body.
const codeRequestInvalid = "REQUEST_INVALID"

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Bank      string    `json:"bank,omitempty"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Details   string    `json:"details,omitempty"`
	Kind      string    `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody renders err. Errors outside the bank taxonomy are reported as
// internal without leaking their text.
func errorBody(err error) ErrorResponse {
	resp := ErrorResponse{Timestamp: time.Now().UTC()}
	if be, ok := bank.AsError(err); ok {
		resp.Bank = be.Bank
		resp.Message = be.Message
		resp.Code = be.Code
		resp.Details = be.Detail
		resp.Kind = be.Kind.String()
		return resp
	}
	resp.Message = "internal error"
	resp.Code = "INTERNAL"
	resp.Kind = bank.KindInternal.String()
	return resp
}

// writeError answers with the status the error's kind maps to.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := bank.KindOf(err).HTTPStatus()

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError && !errors.Is(err, bank.ErrServiceUnavailable) {
		logger.Error("request failed", zap.Error(err), zap.Int("status", status))
	} else {
		logger.Debug("request rejected", zap.Error(err), zap.Int("status", status))
	}

	writeJSON(w, status, errorBody(err))
}

func badRequest(message, detail string) error {
	return &bank.Error{Code: codeRequestInvalid, Kind: bank.KindInvalidData, Message: message, Detail: detail}
}

func unauthorized(message string) error {
	return &bank.Error{Code: "UNAUTHORIZED", Kind: bank.KindAuthentication, Message: message}
}
