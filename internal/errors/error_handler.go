package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	ErrorCode ErrorCode `json:"error_code"`
	RequestID string    `json:"request_id,omitempty"`
	// Details is only filled for client errors.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Handler writes errors as HTTP responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError maps err to a status code and writes the error body.
// Errors that are not StoreErrors are reported without their message.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		err = BodyTooLarge(maxErr.Limit)
	}

	resp := ErrorResponse{
		Error:     "internal server error",
		ErrorCode: GetCode(err),
		RequestID: r.Header.Get("X-Request-ID"),
	}
	status := HTTPStatus(err)

	var se *StoreError
	if stderrors.As(err, &se) {
		resp.Error = se.Message
		if status < http.StatusInternalServerError && len(se.Details) > 0 {
			resp.Details = se.Details
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Int("error_code", int(resp.ErrorCode)),
			zap.Error(err))
	}
	h.write(w, status, &resp)
}

// WriteErrorResponse writes an error body with an explicit status and code.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.write(w, statusCode, &ErrorResponse{
		Error:     message,
		ErrorCode: errorCode,
		RequestID: requestID,
	})
}

func (h *Handler) write(w http.ResponseWriter, status int, resp *ErrorResponse) {
	h.logger.Debug("Error response",
		zap.Int("status", status),
		zap.Int("error_code", int(resp.ErrorCode)),
		zap.String("message", resp.Error),
		zap.String("request_id", resp.RequestID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("Failed to write error body", zap.Error(err))
	}
}

// WriteValidationError writes a 400 response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrCodeInvalidArgument, message, requestID)
}
