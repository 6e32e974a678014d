package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
)

const maxBodyBytes = 1 << 20

// Message codes returned in {"errors": {"msg": ...}}
const (
	MsgURLNotFound        = "URL_NOT_FOUND"
	MsgUnauthorized       = "UNAUTHORIZED"
	MsgMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	MsgInvalidJSON        = "INVALID_JSON"
	MsgValidationError    = "VALIDATION_ERROR"
	MsgUserDoesNotExist   = "USER_DOES_NOT_EXIST"
	MsgEmailAlreadyExists = "EMAIL_ALREADY_EXISTS"
	MsgWrongPassword      = "WRONG_PASSWORD"
	MsgBlockedUser        = "BLOCKED_USER"
	MsgNotVerified        = "NOT_FOUND_OR_ALREADY_VERIFIED"
	MsgNotFoundOrUsed     = "NOT_FOUND_OR_ALREADY_USED"
	MsgUnavailable        = "SERVICE_UNAVAILABLE"
	MsgInternalError      = "INTERNAL_ERROR"
)

type errorBody struct {
	Msg    string            `json:"msg"`
	Fields map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Errors errorBody `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Errors: errorBody{Msg: msg}})
}

// writeValidationError reports ozzo validation failures field by field
func writeValidationError(w http.ResponseWriter, err error) {
	body := errorBody{Msg: MsgValidationError}
	var errs validation.Errors
	if errors.As(err, &errs) {
		body.Fields = make(map[string]string, len(errs))
		for field, fieldErr := range errs {
			body.Fields[field] = fieldErr.Error()
		}
	}
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Errors: body})
}

type validatable interface {
	Validate() error
}

// decode reads a JSON body into req and validates it. It writes the error
// response itself and returns false when the request cannot proceed.
func decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, MsgInvalidJSON)
		return false
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}
