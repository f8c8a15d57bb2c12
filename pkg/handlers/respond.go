package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/converter"
	"github.com/TFMV/quarry/pkg/models"
)

// DefaultMaxBodySize bounds JSON request bodies.
const DefaultMaxBodySize = 10 << 20

// errorBody is the JSON form of a failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a JSON error body with the status its code maps to.
func WriteError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), errorBody{Error: errorDetail{
		Code:    errors.GetCode(err),
		Message: errors.GetMessage(err),
		Details: errors.GetDetails(err),
	}})
}

// wantsArrow reports whether the client asked for an Arrow IPC stream.
func wantsArrow(r *http.Request) bool {
	return r.URL.Query().Get("format") == "arrow" ||
		strings.Contains(r.Header.Get("Accept"), converter.StreamContentType)
}

// writeResult writes a tabular result as JSON, or as an Arrow IPC stream when
// the client asked for one.
func writeResult(w http.ResponseWriter, r *http.Request, v interface{}, result *models.TabularResult) error {
	if !wantsArrow(r) {
		writeJSON(w, http.StatusOK, v)
		return nil
	}
	if result == nil {
		result = models.NewTabularResult()
	}
	w.Header().Set("Content-Type", converter.StreamContentType)
	w.WriteHeader(http.StatusOK)
	return converter.WriteStream(w, result)
}

// decoder reads and validates JSON request bodies.
type decoder struct {
	validate *validator.Validate
	maxBytes int64
}

func newDecoder(maxBytes int64) *decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return &decoder{validate: validator.New(), maxBytes: maxBytes}
}

func (d *decoder) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, d.maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.New(errors.CodeInvalidRequest, "request body is required")
		}
		return errors.Wrap(err, errors.CodeInvalidRequest, "invalid request body")
	}
	if err := d.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, errors.CodeInvalidRequest, "invalid request")
	}
	fields := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return errors.New(errors.CodeInvalidRequest, "request validation failed").WithDetails(fields)
}
