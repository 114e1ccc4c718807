package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	contractModel "fabrica/internal/contract/models"
	contractsvc "fabrica/internal/contract/service"
	"fabrica/internal/signing/handler/mocks"
	tokenmodels "fabrica/internal/token/models"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
)

type SigningHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestSigningHandlerSuite(t *testing.T) {
	suite.Run(t, new(SigningHandlerSuite))
}

func (s *SigningHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.service, logger).Register(s.router)
}

func (s *SigningHandlerSuite) post(contractID, code string) *httptest.ResponseRecorder {
	s.T().Helper()
	body, err := json.Marshal(map[string]string{"code": code})
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPost, "/signing/"+contractID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/126.0")
	req.RemoteAddr = "203.0.113.7:51234"

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *SigningHandlerSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	s.T().Helper()
	var body map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *SigningHandlerSuite) TestRejectsMalformedCodeBeforeService() {
	// No EXPECT on the mock: the service must not be reached.
	for _, code := range []string{"", "12345", "1234567", "48a913", "482 13"} {
		w := s.post(id.NewContractID().String(), code)
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal(string(tokenmodels.OutcomeMalformedCode), s.decode(w)["outcome"])
	}
}

func (s *SigningHandlerSuite) TestRejectsInvalidContractID() {
	w := s.post("not-a-uuid", "482913")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *SigningHandlerSuite) TestCapturesClientEvidence() {
	contractID := id.NewContractID()
	s.service.EXPECT().
		SignExternal(gomock.Any(), contractID, "482913", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.ContractID, _ string, ev tokenmodels.AttemptEvidence) (*contractsvc.SignExternalResult, error) {
			s.Equal("203.0.113.7", ev.IP)
			s.Contains(ev.UserAgent, "Firefox")
			return &contractsvc.SignExternalResult{Outcome: tokenmodels.OutcomeInvalidCode}, nil
		})

	w := s.post(contractID.String(), "482913")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(string(tokenmodels.OutcomeInvalidCode), s.decode(w)["outcome"])
}

func (s *SigningHandlerSuite) TestFailureOutcomeStatusMapping() {
	cases := []struct {
		outcome tokenmodels.Outcome
		status  int
	}{
		{tokenmodels.OutcomeNotFound, http.StatusNotFound},
		{tokenmodels.OutcomeExpired, http.StatusGone},
		{tokenmodels.OutcomeTooManyAttempts, http.StatusTooManyRequests},
		{tokenmodels.OutcomeAlreadyConsumed, http.StatusConflict},
		{tokenmodels.OutcomeInvalidCode, http.StatusBadRequest},
	}
	for _, tc := range cases {
		contractID := id.NewContractID()
		s.service.EXPECT().
			SignExternal(gomock.Any(), contractID, "482913", gomock.Any()).
			Return(&contractsvc.SignExternalResult{Outcome: tc.outcome}, nil)

		w := s.post(contractID.String(), "482913")
		s.Equal(tc.status, w.Code, "outcome %s", tc.outcome)
		s.Equal(string(tc.outcome), s.decode(w)["outcome"])
	}
}

func (s *SigningHandlerSuite) TestSuccessReturnsCompletedContract() {
	contractID := id.NewContractID()
	completedAt := time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)
	s.service.EXPECT().
		SignExternal(gomock.Any(), contractID, "482913", gomock.Any()).
		Return(&contractsvc.SignExternalResult{
			Outcome: tokenmodels.OutcomeSuccess,
			Contract: &contractModel.Contract{
				Status:      contractModel.StatusCompleted,
				CompletedAt: &completedAt,
			},
		}, nil)

	w := s.post(contractID.String(), "482913")
	s.Equal(http.StatusOK, w.Code)

	body := s.decode(w)
	s.Equal(string(tokenmodels.OutcomeSuccess), body["outcome"])
	s.Equal(string(contractModel.StatusCompleted), body["status"])
	s.NotEmpty(body["completed_at"])
}

func (s *SigningHandlerSuite) TestWrongLifecycleStateMapsToConflict() {
	contractID := id.NewContractID()
	s.service.EXPECT().
		SignExternal(gomock.Any(), contractID, "482913", gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeConflict, "contract is not awaiting external signature"))

	w := s.post(contractID.String(), "482913")
	s.Equal(http.StatusConflict, w.Code)
}
