// Package httpx is the single serialization boundary for the HTTP API.
// Every handler responds through it so the envelope stays uniform.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Envelope is the canonical success payload.
type Envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination carries listing metadata.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// ErrorBody is the canonical failure payload.
type ErrorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail describes what went wrong, RFC7807 style.
type ErrorDetail struct {
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// JSON writes data wrapped in the success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

// JSONList writes a paginated listing.
func JSONList(w http.ResponseWriter, data any, p Pagination) {
	write(w, http.StatusOK, Envelope{Success: true, Data: data, Pagination: &p})
}

// Problem writes a failure envelope with the given status.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, status, ErrorBody{Error: ErrorDetail{Title: title, Status: status, Detail: detail}})
}

// FieldProblem writes a validation failure with per-field messages.
func FieldProblem(w http.ResponseWriter, status int, fields map[string]string) {
	write(w, status, ErrorBody{Error: ErrorDetail{Title: "Validation Failed", Status: status, Fields: fields}})
}

// DecodeJSON decodes the request body into target.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// DecodeValid decodes and validates the request body in one step.
func DecodeValid(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return validate.Struct(target)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationFields flattens validator errors into field -> message.
func ValidationFields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
