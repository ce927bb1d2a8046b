package middleware

import (
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/lambdaops/internal/errors"
	"github.com/3leaps/lambdaops/internal/observability"
)

// ErrorResponse is the JSON body written for errors raised by middleware.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts panics in downstream handlers into a 500 INTERNAL_ERROR
// envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := chimw.GetReqID(r.Context())
			observability.CLILogger.Error("Recovered from panic",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestID),
			)

			writeErrorResponse(w, apperrors.ErrorBody{
				Code:      apperrors.CodeInternal,
				Message:   fmt.Sprintf("panic: %v", rec),
				RequestID: requestID,
			}, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, body apperrors.ErrorBody, statusCode int) {
	apperrors.WriteError(w, statusCode, body)
}
