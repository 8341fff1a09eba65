package response

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the shape of every failed response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// JSON writes data as the whole response body. List endpoints answer with
// flat payloads such as {"lists": [...]} rather than a data envelope.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK writes {"success": true}.
func OK(w http.ResponseWriter) {
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func Error(w http.ResponseWriter, statusCode int, err string) {
	ErrorWithCode(w, statusCode, err, "")
}

func ErrorWithCode(w http.ResponseWriter, statusCode int, err, code string) {
	JSON(w, statusCode, ErrorBody{
		Success: false,
		Error:   err,
		Code:    code,
	})
}

func BadRequest(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusBadRequest, err, "validation_error")
}

func Unauthorized(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusUnauthorized, err, "unauthorized")
}

func Forbidden(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusForbidden, err, "forbidden")
}

func NotFound(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusNotFound, err, "not_found")
}

func InternalError(w http.ResponseWriter, err string) {
	ErrorWithCode(w, http.StatusInternalServerError, err, "internal_error")
}
