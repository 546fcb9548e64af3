package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"papertrade/internal/domain"
	"papertrade/internal/ledger"
)

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status
// code, error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// mapDomainError maps domain and ledger errors to HTTP responses.
func mapDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrNoSuchAccount):
		WriteError(w, http.StatusNotFound, "no_such_account", err.Error())
	case errors.Is(err, domain.ErrNoSuchHolding):
		WriteError(w, http.StatusNotFound, "no_such_holding", err.Error())
	case errors.Is(err, domain.ErrNoSuchOrder):
		WriteError(w, http.StatusNotFound, "no_such_order", err.Error())
	case errors.Is(err, domain.ErrUserNotFound):
		WriteError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusConflict, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrInsufficientQuantity):
		WriteError(w, http.StatusConflict, "insufficient_quantity", err.Error())
	case errors.Is(err, domain.ErrOrderNotPending):
		WriteError(w, http.StatusConflict, "order_not_pending",
			"order already settled and can no longer be cancelled")
	case errors.Is(err, domain.ErrUserAlreadyExists):
		WriteError(w, http.StatusConflict, "user_already_exists", err.Error())
	case errors.Is(err, domain.ErrNoReferencePrice):
		WriteError(w, http.StatusConflict, "no_reference_price",
			"no reference price observed for this market yet")
	case errors.Is(err, domain.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, ledger.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict",
			"the operation conflicted with a concurrent update; retry")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
