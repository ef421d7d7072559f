package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apierrors "github.com/froz-husain/kmstore/internal/errors"
	"github.com/froz-husain/kmstore/internal/model"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockStore is a mock implementation of RecordStore
type MockStore struct {
	mock.Mock
}

func (m *MockStore) AppendReading(ctx context.Context, in *model.ReadingInput) (*model.AppendResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AppendResult), args.Error(1)
}

func (m *MockStore) AppendAbsence(ctx context.Context, in *model.AbsenceInput) (*model.AppendResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AppendResult), args.Error(1)
}

func (m *MockStore) ReadMonth(ctx context.Context, site, yearMonth string) ([]model.MileageRecord, error) {
	args := m.Called(ctx, site, yearMonth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MileageRecord), args.Error(1)
}

func (m *MockStore) ReadYear(ctx context.Context, site, year string) ([]model.MileageRecord, error) {
	args := m.Called(ctx, site, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MileageRecord), args.Error(1)
}

func (m *MockStore) ReadDay(ctx context.Context, site, date string, filter model.DayFilter) ([]model.MileageRecord, error) {
	args := m.Called(ctx, site, date, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MileageRecord), args.Error(1)
}

func (m *MockStore) ReadRegistry(ctx context.Context, site string) ([]model.RouteAssignment, error) {
	args := m.Called(ctx, site)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RouteAssignment), args.Error(1)
}

func (m *MockStore) AssignNewRouteID(ctx context.Context, site, routeCode string) (string, error) {
	args := m.Called(ctx, site, routeCode)
	return args.String(0), args.Error(1)
}

func (m *MockStore) AssignDriver(ctx context.Context, routeID, driverName, driverCode string) (*model.RouteAssignment, error) {
	args := m.Called(ctx, routeID, driverName, driverCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RouteAssignment), args.Error(1)
}

func (m *MockStore) ListSites(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) ListPeriods(ctx context.Context, site string) ([]string, error) {
	args := m.Called(ctx, site)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) BaseDir() string {
	return "/kilometrage"
}

func (m *MockStore) PendingWrites() int {
	return 2
}

func newHandlers(st *MockStore) *Handlers {
	logger := zap.NewNop()
	return NewHandlers(st, apierrors.NewHandler(logger), logger, 0)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSaveReadingMapsBody(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)

	st.On("AppendReading", mock.Anything, mock.MatchedBy(func(in *model.ReadingInput) bool {
		return in.Site == "Gleize" &&
			in.RouteCode == "12" &&
			in.RouteID == "T12-001" &&
			in.Date == "2026-02-14T07:00:00Z" &&
			in.Km != nil && *in.Km == 45210 &&
			in.TimeSlot == "Matin" &&
			in.IdempotencyKey == "k-1"
	})).Return(&model.AppendResult{}, nil)

	body := `{"agence":"Gleize","codeTournee":12,"id":"T12-001","date":"2026-02-14T07:00:00Z","km":"45210","horaire":"Matin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/kilometrage/save", strings.NewReader(body))
	req.Header.Set(IdempotencyHeader, "k-1")
	rec := httptest.NewRecorder()
	h.SaveReading(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": true}, decode(t, rec))
	st.AssertExpectations(t)
}

func TestSaveReadingDuplicate(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("AppendReading", mock.Anything, mock.Anything).Return(&model.AppendResult{Duplicate: true}, nil)

	rec := httptest.NewRecorder()
	h.SaveReading(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agence":"Gleize","date":"2026-02-14","km":1}`)))

	assert.Equal(t, true, decode(t, rec)["duplicate"])
}

func TestSaveReadingInvalidKm(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)

	rec := httptest.NewRecorder()
	h.SaveReading(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agence":"Gleize","date":"2026-02-14","km":"abc"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(apierrors.ErrCodeInvalidOdometer), body["error_code"])
	st.AssertNotCalled(t, "AppendReading", mock.Anything, mock.Anything)
}

func TestSaveReadingMalformedBody(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)

	rec := httptest.NewRecorder()
	h.SaveReading(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agence":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.SaveReading(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agence":{"x":1}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveAbsenceValidationError(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("AppendAbsence", mock.Anything, mock.Anything).Return(nil, apierrors.MissingField("codeTournee"))

	rec := httptest.NewRecorder()
	h.SaveAbsence(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "codeTournee")
}

func TestGetParamsEmptyIsArray(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("ReadRegistry", mock.Anything, "GLEIZE").Return(nil, nil)

	rec := httptest.NewRecorder()
	h.GetParams(rec, httptest.NewRequest(http.MethodGet, "/api/kilometrage/params?agence=%20GLEIZE%20", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestNewRouteID(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("AssignNewRouteID", mock.Anything, "Gleize", "T12").Return("T12-003", nil)

	rec := httptest.NewRecorder()
	h.NewRouteID(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agence":"Gleize","codeTournee":"T12"}`)))

	assert.JSONEq(t, `{"success":true,"id":"T12-003"}`, rec.Body.String())
}

func TestAssignDriverUnknownRoute(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("AssignDriver", mock.Anything, "T99-001", "Luc", "LP04").Return(nil, apierrors.NotFound("route", "T99-001"))

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"transporteur":"Luc","codeTransporteur":"LP04"}`))
	req = mux.SetURLVars(req, map[string]string{"id": "T99-001"})
	rec := httptest.NewRecorder()
	h.AssignDriver(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDataYearOrMonth(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("ReadYear", mock.Anything, "Gleize", "2026").Return([]model.MileageRecord{{Type: model.RecordTypeReading}}, nil)
	st.On("ReadMonth", mock.Anything, "Gleize", "2026-02").Return(nil, nil)

	rec := httptest.NewRecorder()
	h.GetData(rec, httptest.NewRequest(http.MethodGet, "/?agence=Gleize&year=2026", nil))
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)

	rec = httptest.NewRecorder()
	h.GetData(rec, httptest.NewRequest(http.MethodGet, "/?agence=Gleize&month=2026-02", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
	st.AssertExpectations(t)
}

func TestGetResumePassesFilters(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	filter := model.DayFilter{RouteID: "T12-001", RouteCode: "T12", DriverCode: "JM01"}
	st.On("ReadDay", mock.Anything, "Gleize", "2026-02-14", filter).Return([]model.MileageRecord{}, nil)

	rec := httptest.NewRecorder()
	h.GetResume(rec, httptest.NewRequest(http.MethodGet,
		"/?agence=Gleize&date=2026-02-14&id=T12-001&codeTournee=T12&codeChauffeur=JM01", nil))

	assert.JSONEq(t, `{"success":true,"rows":[]}`, rec.Body.String())
	st.AssertExpectations(t)
}

func TestListPeriods(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("ListPeriods", mock.Anything, "GLEIZE").Return([]string{"2026-01", "2026-02"}, nil)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"site": "GLEIZE"})
	rec := httptest.NewRecorder()
	h.ListPeriods(rec, req)

	assert.JSONEq(t, `{"success":true,"periods":["2026-01","2026-02"]}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	st := new(MockStore)
	h := newHandlers(st)
	st.On("Ping", mock.Anything).Return(nil).Once()
	st.On("Ping", mock.Anything).Return(apierrors.Configuration("FTP host is not configured")).Once()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"success":true,"dir":"/kilometrage","pendingWrites":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "FTP host")
}
