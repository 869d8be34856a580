package parse

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oriys/cloudcode/internal/domain"
)

// APIError is an error object returned by the REST API,
// {"code": 101, "error": "Object not found."}. Its message keeps the
// transport failure prefix so callers see one format.
type APIError struct {
	Code    int
	Message string
	Status  int
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s%s (code %d)", domain.TransportFailurePrefix, e.Message, e.Code)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err says the addressed object does not exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == domain.CodeObjectNotFound {
		return true
	}
	var terr *domain.TransportError
	return errors.As(err, &terr) && terr.NotFound()
}

func decodeError(err error) error {
	var terr *domain.TransportError
	if !errors.As(err, &terr) || terr.Body == "" {
		return err
	}
	var body struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(terr.Body), &body) != nil || body.Error == "" {
		return err
	}
	return &APIError{Code: body.Code, Message: body.Error, Status: terr.StatusCode, Err: terr}
}
