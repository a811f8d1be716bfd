package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/internal/transfer"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubService struct {
	summary   *domain.Summary
	runErr    error
	report    *domain.StatusReport
	statusErr error
	runs      []domain.Summary
	runsErr   error

	gotLimit   int
	ctxErrSeen error
}

func (s *stubService) StartTransfer(ctx context.Context, trigger domain.Trigger) (*domain.Summary, error) {
	s.ctxErrSeen = ctx.Err()
	return s.summary, s.runErr
}

func (s *stubService) Status(ctx context.Context) (*domain.StatusReport, error) {
	return s.report, s.statusErr
}

func (s *stubService) Runs(ctx context.Context, limit int) ([]domain.Summary, error) {
	s.gotLimit = limit
	return s.runs, s.runsErr
}

func do(t *testing.T, svc *stubService, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(&Services{Transfer: svc}, []string{"*"})
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, &stubService{}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartTransfer_Success(t *testing.T) {
	rng := domain.DateRange{
		Start: domain.NewDate(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
		End:   domain.NewDate(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)),
	}
	svc := &stubService{summary: &domain.Summary{
		Success:       true,
		State:         domain.StateDone,
		FilesFound:    2,
		FilesUploaded: 2,
		UploadedNames: []string{"data_20240102.csv", "data_20240103.csv"},
		DateRange:     &rng,
	}}

	rec := do(t, svc, http.MethodPost, "/api/v1/transfers")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["filesFound"])
	assert.Equal(t, float64(2), body["filesUploaded"])
	assert.Equal(t, float64(0), body["filesFailed"])
	assert.Equal(t, "2024-01-02 - 2024-01-04", body["dateRangeUsed"])
	assert.NoError(t, svc.ctxErrSeen)
}

func TestStartTransfer_InProgress(t *testing.T) {
	rec := do(t, &stubService{runErr: transfer.ErrTransferInProgress}, http.MethodPost, "/api/v1/transfers")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestStartTransfer_Failed(t *testing.T) {
	svc := &stubService{
		summary: &domain.Summary{State: domain.StateFailed, Message: "could not reach the SFTP source (connect); check that the VPN link to the SFTP host is up and the credentials are valid"},
		runErr:  &transfer.ConnectivityError{Side: transfer.SideSource, Op: "connect", Err: errors.New("timeout")},
	}
	rec := do(t, svc, http.MethodPost, "/api/v1/transfers")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body domain.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "VPN")
}

func TestStartTransfer_LockUnavailable(t *testing.T) {
	rec := do(t, &stubService{runErr: errors.New("acquire transfer lock: redis down")}, http.MethodPost, "/api/v1/transfers")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis down")
}

func TestGetStatus(t *testing.T) {
	last := domain.NewDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := &stubService{report: &domain.StatusReport{Success: true, LastUploadDate: &last, DaysPending: 3, SourceReachable: true, DestinationReachable: true}}

	rec := do(t, svc, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2024-01-01", body["lastUploadDate"])
	assert.Equal(t, float64(3), body["daysPending"])
}

func TestGetStatus_Unreachable(t *testing.T) {
	svc := &stubService{
		report:    &domain.StatusReport{Success: false, Message: "could not reach the SFTP source"},
		statusErr: errors.New("dial tcp: timeout"),
	}
	rec := do(t, svc, http.MethodGet, "/api/v1/status")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not reach the SFTP source")
	assert.NotContains(t, rec.Body.String(), "dial tcp")
}

func TestListRuns(t *testing.T) {
	svc := &stubService{runs: []domain.Summary{{RunID: "a"}, {RunID: "b"}}}
	rec := do(t, svc, http.MethodGet, "/api/v1/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.gotLimit)

	var body struct {
		Runs []domain.Summary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "a", body.Runs[0].RunID)

	rec = do(t, svc, http.MethodGet, "/api/v1/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, &stubService{runsErr: errors.New("db down")}, http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"https://a.example.com, https://b.example.com", " "})
	assert.False(t, all)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, origins)

	_, all = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, all)
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(&Services{Transfer: &stubService{}}, []string{"https://ops.example.com"})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transfers", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
