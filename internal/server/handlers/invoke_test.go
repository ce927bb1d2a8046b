package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/lambdaops/internal/errors"
	"github.com/3leaps/lambdaops/pkg/relay"
)

type recordingInvoker struct {
	got  relay.Event
	resp relay.Response
	err  error
}

func (r *recordingInvoker) Handle(ctx context.Context, event relay.Event) (relay.Response, error) {
	r.got = event
	return r.resp, r.err
}

func TestInvokeHandler(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEvent relay.Event
	}{
		{"empty body", "", relay.Event{}},
		{"null body", "null", relay.Event{}},
		{"direct url", `{"url":"https://example.com"}`, relay.Event{"url": "https://example.com"}},
		{"envelope", `{"body":"{\"url\":\"https://example.com\"}"}`, relay.Event{"body": `{"url":"https://example.com"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &recordingInvoker{resp: relay.Response{StatusCode: 500, Body: `{"error":"Request failed: x"}`}}
			req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			InvokeHandler(inv)(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantEvent, inv.got)

			var resp relay.Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, 500, resp.StatusCode)
			assert.Equal(t, `{"error":"Request failed: x"}`, resp.Body)
		})
	}
}

func TestInvokeHandler_BadRequest(t *testing.T) {
	for _, body := range []string{`{`, `[1,2]`, `"url"`} {
		t.Run(body, func(t *testing.T) {
			inv := &recordingInvoker{}
			rec := httptest.NewRecorder()

			InvokeHandler(inv)(rec, httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, inv.got)

			var resp apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, apperrors.CodeBadRequest, resp.Error.Code)
		})
	}
}

func TestInvokeHandler_TooLarge(t *testing.T) {
	body := `{"pad":"` + strings.Repeat("x", MaxEventBytes) + `"}`
	rec := httptest.NewRecorder()

	InvokeHandler(&recordingInvoker{})(rec, httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeRequestTooLarge, resp.Error.Code)
}

func TestInvokeHandler_InvokerError(t *testing.T) {
	rec := httptest.NewRecorder()
	InvokeHandler(&recordingInvoker{err: assert.AnError})(rec, httptest.NewRequest(http.MethodPost, "/invoke", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeInternal, resp.Error.Code)
}

func TestInvokeHandler_InvokerErrorCarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(`{"url":"https://example.com"}`))
	req = req.WithContext(context.WithValue(req.Context(), chimw.RequestIDKey, "req-7"))
	rec := httptest.NewRecorder()

	InvokeHandler(&recordingInvoker{err: errors.New("dial tcp: secret-host:443")})(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeInternal, resp.Error.Code)
	assert.Equal(t, "req-7", resp.Error.RequestID)
	assert.NotContains(t, resp.Error.Message, "secret-host")
}

func TestInvokeHandler_RelayRequestFailed(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(`{"url":"invalid-url"}`))

	InvokeHandler(relay.New())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp relay.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body relay.ErrorBody
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.True(t, strings.HasPrefix(body.Error, "Request failed: "), body.Error)
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(VersionInfo{Version: "1.0.0", GoVersion: "go1.99"})(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "go1.99", info.GoVersion)
}
