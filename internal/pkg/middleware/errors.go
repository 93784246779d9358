package middleware

import (
	"net/http"

	"vidrender/internal/httpkit"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
)

const internalMessage = "internal server error"

// HandleError logs err and answers with the status mapped from its code.
// Client errors expose the error message and fields; server errors with no
// specific code expose neither.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var coded *errors.Error
	if !errors.As(err, &coded) {
		coded = &errors.Error{Code: errors.CodeInternal, Message: internalMessage, Err: err}
	}
	status := coded.HTTPStatus()

	attrs := []any{
		"error", err.Error(),
		"code", string(coded.Code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	for k, v := range coded.Fields {
		attrs = append(attrs, k, v)
	}

	reqLog := log.FromContext(r.Context())
	message, details := coded.Message, coded.Fields
	if status < http.StatusInternalServerError {
		reqLog.Warn("request rejected", attrs...)
	} else {
		if len(coded.Stack) > 0 {
			attrs = append(attrs, "stack", coded.StackTrace())
		}
		reqLog.Error("request failed", attrs...)
		if coded.Code == errors.CodeInternal {
			message, details = internalMessage, nil
		}
	}

	httpkit.WriteErr(w, status, string(coded.Code), message, details)
}
