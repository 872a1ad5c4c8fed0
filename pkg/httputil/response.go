// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/xdeploy/xdeploy/pkg/apierror"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorBody is the uniform error response body.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// WriteAPIError maps a domain error to its HTTP status and writes the
// uniform error body. Internal details never reach the client.
func WriteAPIError(w http.ResponseWriter, err error) {
	kind := apierror.KindOf(err)
	WriteJSON(w, StatusOf(kind), ErrorBody{
		Message: apierror.MessageOf(err),
		Code:    string(kind),
	})
}

// StatusOf maps an error kind to an HTTP status code. Validation and
// unprocessable both map to 422; 400 is reserved for unparseable requests.
func StatusOf(kind apierror.Kind) int {
	switch kind {
	case apierror.KindValidation:
		return http.StatusUnprocessableEntity
	case apierror.KindUnauthorized:
		return http.StatusUnauthorized
	case apierror.KindForbidden:
		return http.StatusForbidden
	case apierror.KindNotFound:
		return http.StatusNotFound
	case apierror.KindConflict:
		return http.StatusConflict
	case apierror.KindUnprocessable:
		return http.StatusUnprocessableEntity
	case apierror.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteBadRequest writes a 400 for requests that could not be parsed at
// all (malformed JSON, missing path parameters).
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorBody{Message: message, Code: "bad_request"})
}

// WriteInternalError writes an internal server error response (500)
func WriteInternalError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{
		Message: "internal server error",
		Code:    string(apierror.KindInternal),
	})
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
