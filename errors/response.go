package errors

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON payload the serving boundary returns for a failed
// request.
type Response struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Classification string         `json:"classification"`
	Context        map[string]any `json:"context,omitempty"`
}

// ToResponse converts err to a Response. Corrupt and internal failures are
// reported with a generic message so object ids and paths do not leak into
// user-visible output; the full error belongs in the log.
func ToResponse(err error) *Response {
	if err == nil {
		return nil
	}

	resp := &Response{
		Code:           string(GetCode(err)),
		Message:        err.Error(),
		Classification: string(GetClassification(err)),
	}

	var coded Error
	if As(err, &coded) {
		resp.Message = coded.Message()
		resp.Context = coded.Context()
	}

	switch HTTPStatus(err) {
	case http.StatusNotFound, http.StatusServiceUnavailable, http.StatusBadRequest:
	default:
		resp.Message = "internal error"
		resp.Context = nil
	}
	return resp
}

// HTTPStatus maps err to the status the serving boundary should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case GetCode(err) == CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// MarshalJSON encodes the error as a Response without the generic-message
// redaction, for logs and diagnostics.
func (e *codedError) MarshalJSON() ([]byte, error) {
	return json.Marshal(&Response{
		Code:           string(e.code),
		Message:        e.message,
		Classification: string(e.classification),
		Context:        e.context,
	})
}
