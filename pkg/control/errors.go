package control

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
)

type errorBody struct {
	Type    errors.ErrorType       `json:"type"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func statusForError(errorType errors.ErrorType) int {
	switch errorType {
	case errors.ErrorTypeAlreadyRunning, errors.ErrorTypeNotRunning, errors.ErrorTypeTerminated:
		return http.StatusConflict
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeSpawnFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeTimeout, errors.ErrorTypeShutdownTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{
		Type:    errors.TypeOf(err),
		Message: err.Error(),
	}
	if body.Type == "" {
		body.Type = errors.ErrorTypeInternal
	}

	render.Status(r, statusForError(body.Type))
	render.JSON(w, r, errorResponse{Error: body})
}

// decodeError turns an error response back into a DomainError of the same type
func decodeError(statusCode int, response *errorResponse) error {
	if response == nil || response.Error.Type == "" {
		return errors.NewNetworkError("unexpected control API response", nil).WithContext("status", statusCode)
	}

	err := errors.NewDomainError(response.Error.Type, response.Error.Message, nil).WithContext("status", statusCode)
	for key, value := range response.Error.Context {
		err.WithContext(key, value)
	}
	return err
}
