package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/3leaps/lambdaops/internal/errors"
	"github.com/3leaps/lambdaops/pkg/relay"
)

// MaxEventBytes bounds the size of an event posted to /invoke.
const MaxEventBytes = 1 << 20

// Invoker runs one relay invocation.
type Invoker interface {
	Handle(ctx context.Context, event relay.Event) (relay.Response, error)
}

// InvokeHandler decodes the request body as a relay event, runs it through
// inv and writes the response envelope. An empty body is an empty event.
// The envelope is always served with 200; its statusCode carries the
// invocation outcome.
func InvokeHandler(inv Invoker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEventBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apperrors.RespondWithError(w, r, apperrors.New(http.StatusRequestEntityTooLarge,
					apperrors.CodeRequestTooLarge, "event exceeds 1 MiB", err))
				return
			}
			apperrors.RespondWithError(w, r, apperrors.BadRequest("failed to read event", err))
			return
		}

		event := relay.Event{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &event); err != nil {
				apperrors.RespondWithError(w, r, apperrors.BadRequest("event must be a JSON object", err))
				return
			}
			if event == nil {
				event = relay.Event{}
			}
		}

		resp, err := inv.Handle(r.Context(), event)
		if err != nil {
			apperrors.RespondWithError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
