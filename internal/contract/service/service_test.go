package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"fabrica/internal/audit"
	auditMemory "fabrica/internal/audit/store/memory"
	"fabrica/internal/contract/models"
	contractMemory "fabrica/internal/contract/store/memory"
	"fabrica/internal/dispatch"
	"fabrica/internal/dispatch/mocks"
	"fabrica/internal/integrity"
	"fabrica/internal/signer"
	tokenmodels "fabrica/internal/token/models"
	tokensvc "fabrica/internal/token/service"
	tokenMemory "fabrica/internal/token/store/memory"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/requestcontext"
	"fabrica/pkg/testutil"
)

// =============================================================================
// Contract Service Test Suite
// =============================================================================
// Justification for unit tests: the lifecycle guards, the mandatory audit
// emission points, and the interplay with token redemption are the core
// correctness surface of this repository and need exact, deterministic
// coverage.

type ContractServiceSuite struct {
	suite.Suite
	contracts  *contractMemory.InMemoryStore
	tokens     *tokenMemory.InMemoryStore
	auditStore *auditMemory.InMemoryStore
	auditLog   *audit.Log
	tokenSvc   *tokensvc.Service
	dispatcher *mocks.MockDispatcher
	service    *Service
	cred       *signer.Credential
	now        time.Time
	ctx        context.Context
}

func TestContractServiceSuite(t *testing.T) {
	suite.Run(t, new(ContractServiceSuite))
}

func (s *ContractServiceSuite) SetupTest() {
	s.contracts = contractMemory.NewInMemoryStore()
	s.tokens = tokenMemory.NewInMemoryStore()
	s.auditStore = auditMemory.NewInMemoryStore()
	s.auditLog = audit.New(s.auditStore)
	s.now = time.Date(2026, 4, 2, 14, 0, 0, 0, time.UTC)

	var err error
	s.tokenSvc, err = tokensvc.New(s.tokens, s.auditLog)
	s.Require().NoError(err)

	ctrl := gomock.NewController(s.T())
	s.dispatcher = mocks.NewMockDispatcher(ctrl)

	s.service, err = New(s.contracts, integrity.New(), s.tokenSvc, s.auditLog,
		WithDispatcher(s.dispatcher),
		WithSigningBaseURL("https://app.fabrica.example"),
	)
	s.Require().NoError(err)

	s.cred = &signer.Credential{
		SignerID:      id.NewSignerID(),
		Name:          "Ana Ribeiro",
		Email:         "ana.ribeiro@fabrica.example",
		Qualified:     true,
		CertIssuer:    "AC Certisign RFB G5",
		CertNotBefore: s.now.Add(-24 * time.Hour),
		CertNotAfter:  s.now.Add(365 * 24 * time.Hour),
	}

	ctx := testutil.FrozenContext(s.T(), s.now)
	ctx = requestcontext.WithActorID(ctx, s.cred.SignerID)
	s.ctx = signer.WithCredential(ctx, s.cred)
}

func (s *ContractServiceSuite) draftParams(number string) CreateDraftParams {
	return CreateDraftParams{
		Number:  number,
		Title:   "Fornecimento de polpa de fruta",
		Content: "O fornecedor se compromete a entregar 500kg mensais.",
		InternalSigner: models.InternalParty{
			SignerID: s.cred.SignerID,
			Name:     s.cred.Name,
			Email:    s.cred.Email,
		},
		ExternalSigner: models.ExternalParty{
			Name:           "Maria Souza",
			Email:          "maria@fornecedor.com.br",
			DocumentNumber: "123.456.789-00",
		},
	}
}

func (s *ContractServiceSuite) createDraft(number string) *models.Contract {
	s.T().Helper()
	contract, err := s.service.CreateDraft(s.ctx, s.draftParams(number))
	s.Require().NoError(err)
	return contract
}

// readyForExternal walks a draft to awaiting external signature and returns
// it with the plaintext code captured from the delivery payload.
func (s *ContractServiceSuite) readyForExternal(number string) (*models.Contract, string) {
	s.T().Helper()
	contract := s.createDraft(number)
	_, err := s.service.Finalize(s.ctx, contract.ID)
	s.Require().NoError(err)

	var code string
	s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d dispatch.Delivery) error {
			code = d.Code
			return nil
		})
	contract, err = s.service.SignInternal(s.ctx, contract.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(code)
	return contract, code
}

func (s *ContractServiceSuite) auditKinds(contractID id.ContractID) []audit.Kind {
	s.T().Helper()
	events, err := s.auditLog.StreamFor(s.ctx, contractID)
	s.Require().NoError(err)
	kinds := make([]audit.Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// =============================================================================
// Draft Tests
// =============================================================================

func (s *ContractServiceSuite) TestCreateDraft() {
	s.Run("creates a draft and emits contrato_criado", func() {
		contract := s.createDraft("C-100")

		s.Equal(models.StatusDraft, contract.Status)
		s.Equal("C-100", contract.Number)
		s.Equal(s.now, contract.CreatedAt)
		s.Empty(contract.ContentHash)

		s.Equal([]audit.Kind{audit.KindContractCreated}, s.auditKinds(contract.ID))
	})

	s.Run("duplicate number is rejected", func() {
		s.createDraft("C-101")
		_, err := s.service.CreateDraft(s.ctx, s.draftParams("C-101"))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ContractServiceSuite) TestUpdateDraftContent() {
	s.Run("draft content is editable", func() {
		contract := s.createDraft("C-110")
		updated, err := s.service.UpdateDraftContent(s.ctx, contract.ID, "novo texto", nil)
		s.Require().NoError(err)
		s.Equal("novo texto", updated.Content)
	})

	s.Run("finalized content is frozen", func() {
		contract := s.createDraft("C-111")
		_, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		_, err = s.service.UpdateDraftContent(s.ctx, contract.ID, "tentativa de alteracao", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// Finalize Tests
// =============================================================================

func (s *ContractServiceSuite) TestFinalize() {
	s.Run("hashes content and transitions", func() {
		contract := s.createDraft("C-120")
		finalized, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		s.Equal(models.StatusAwaitingInternalSignature, finalized.Status)
		s.NotEmpty(finalized.ContentHash)
		s.Require().NotNil(finalized.FinalizedAt)
		s.Equal(s.now, *finalized.FinalizedAt)

		s.True(integrity.New().Verify([]byte(finalized.Content), finalized.Number, finalized.ContentHash))
	})

	s.Run("second finalize fails without re-hashing or re-emitting", func() {
		contract := s.createDraft("C-121")
		finalized, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		_, err = s.service.Finalize(s.ctx, contract.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		var transition *models.InvalidTransitionError
		s.Require().True(errors.As(err, &transition))
		s.Equal(models.StatusAwaitingInternalSignature, transition.From)

		again, err := s.service.Get(s.ctx, contract.ID)
		s.Require().NoError(err)
		s.Equal(finalized.ContentHash, again.ContentHash)
		s.Equal([]audit.Kind{audit.KindContractCreated, audit.KindContractFinalized}, s.auditKinds(contract.ID))
	})

	s.Run("empty content cannot be finalized", func() {
		params := s.draftParams("C-122")
		params.Content = "   "
		contract, err := s.service.CreateDraft(s.ctx, params)
		s.Require().NoError(err)

		_, err = s.service.Finalize(s.ctx, contract.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("unknown contract returns not found", func() {
		_, err := s.service.Finalize(s.ctx, id.NewContractID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Internal Signature Tests
// =============================================================================

func (s *ContractServiceSuite) TestSignInternal() {
	s.Run("records signature, issues token, dispatches code", func() {
		contract := s.createDraft("C-130")
		_, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		var delivery dispatch.Delivery
		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, d dispatch.Delivery) error {
				delivery = d
				return nil
			})

		signed, err := s.service.SignInternal(s.ctx, contract.ID)
		s.Require().NoError(err)

		s.Equal(models.StatusAwaitingExternalSignature, signed.Status)
		s.Require().NotNil(signed.InternalSignature)
		s.Equal("Ana Ribeiro", signed.InternalSignature.SignerName)
		ev, ok := signed.InternalSignature.Evidence.(models.QualifiedEvidence)
		s.Require().True(ok)
		s.Equal("AC Certisign RFB G5", ev.CertIssuer)

		s.Equal("maria@fornecedor.com.br", delivery.RecipientEmail)
		s.Equal("Maria Souza", delivery.RecipientName)
		s.Equal("https://app.fabrica.example/signing/"+contract.ID.String(), delivery.SigningURL)
		s.Len(delivery.Code, 6)
		s.Equal(s.now.Add(24*time.Hour), delivery.ValidUntil)

		s.Equal([]audit.Kind{
			audit.KindContractCreated,
			audit.KindContractFinalized,
			audit.KindInternalSignature,
			audit.KindTokenIssued,
		}, s.auditKinds(contract.ID))
	})

	s.Run("missing credential is unauthorized", func() {
		contract := s.createDraft("C-131")
		_, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		ctx := testutil.FrozenContext(s.T(), s.now)
		_, err = s.service.SignInternal(ctx, contract.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unqualified credential is forbidden", func() {
		contract := s.createDraft("C-132")
		_, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		unqualified := *s.cred
		unqualified.Qualified = false
		ctx := signer.WithCredential(testutil.FrozenContext(s.T(), s.now), &unqualified)
		_, err = s.service.SignInternal(ctx, contract.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("expired certificate is forbidden", func() {
		contract := s.createDraft("C-133")
		_, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		expired := *s.cred
		expired.CertNotAfter = s.now.Add(-time.Hour)
		ctx := signer.WithCredential(testutil.FrozenContext(s.T(), s.now), &expired)
		_, err = s.service.SignInternal(ctx, contract.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("draft cannot be signed", func() {
		contract := s.createDraft("C-134")
		_, err := s.service.SignInternal(s.ctx, contract.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("failed delivery still leaves the token valid", func() {
		contract := s.createDraft("C-135")
		_, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(errors.New("smtp unavailable"))

		signed, err := s.service.SignInternal(s.ctx, contract.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusAwaitingExternalSignature, signed.Status)

		tok, err := s.tokens.FindLatest(s.ctx, contract.ID)
		s.Require().NoError(err)
		s.True(tok.IsActiveAt(s.now))
	})
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func (s *ContractServiceSuite) TestDispatch() {
	s.Run("reissues and supersedes the previous code", func() {
		contract, firstCode := s.readyForExternal("C-140")

		s.dispatcher.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
		result, err := s.service.Dispatch(s.ctx, contract.ID)
		s.Require().NoError(err)
		s.True(result.Delivered)
		s.Equal("maria@fornecedor.com.br", result.RecipientEmail)

		// the first code is dead now
		outcome, err := s.service.SignExternal(s.ctx, contract.ID, firstCode, tokenmodels.AttemptEvidence{})
		s.Require().NoError(err)
		s.Equal(tokenmodels.OutcomeAlreadyConsumed, outcome.Outcome)
	})

	s.Run("dispatch outside awaiting external signature is rejected", func() {
		contract := s.createDraft("C-141")
		_, err := s.service.Dispatch(s.ctx, contract.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// External Signature Tests
// =============================================================================

func (s *ContractServiceSuite) TestSignExternal() {
	evidence := tokenmodels.AttemptEvidence{
		IP:        "203.0.113.7",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	}

	s.Run("correct code completes the contract", func() {
		contract, code := s.readyForExternal("C-150")

		result, err := s.service.SignExternal(s.ctx, contract.ID, code, evidence)
		s.Require().NoError(err)
		s.True(result.Signed())

		completed := result.Contract
		s.Equal(models.StatusCompleted, completed.Status)
		s.True(completed.IsCompleted())
		s.Require().NotNil(completed.CompletedAt)
		s.True(!completed.CompletedAt.Before(*completed.FinalizedAt))

		s.Require().NotNil(completed.ExternalSignature)
		s.Equal("Maria Souza", completed.ExternalSignature.SignerName)
		ev, ok := completed.ExternalSignature.Evidence.(models.TokenEvidence)
		s.Require().True(ok)
		s.Equal(code, ev.Code)
		s.Equal("203.0.113.7", ev.IP)
		s.True(ev.Mobile)

		s.NotEmpty(completed.CompletionHash)
		s.NotEqual(completed.ContentHash, completed.CompletionHash)
	})

	s.Run("wrong code leaves the contract untouched", func() {
		contract, code := s.readyForExternal("C-151")

		wrong := "000000"
		if code == wrong {
			wrong = "000001"
		}
		result, err := s.service.SignExternal(s.ctx, contract.ID, wrong, evidence)
		s.Require().NoError(err)
		s.Equal(tokenmodels.OutcomeInvalidCode, result.Outcome)
		s.Nil(result.Contract)

		current, err := s.service.Get(s.ctx, contract.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusAwaitingExternalSignature, current.Status)
		s.Nil(current.ExternalSignature)
	})

	s.Run("expired code fails with one failure event and no state change", func() {
		contract, code := s.readyForExternal("C-152")
		before := len(s.auditKinds(contract.ID))

		later := requestcontext.WithTime(s.ctx, s.now.Add(25*time.Hour))
		result, err := s.service.SignExternal(later, contract.ID, code, evidence)
		s.Require().NoError(err)
		s.Equal(tokenmodels.OutcomeExpired, result.Outcome)

		current, err := s.service.Get(s.ctx, contract.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusAwaitingExternalSignature, current.Status)

		kinds := s.auditKinds(contract.ID)
		s.Require().Len(kinds, before+1)
		s.Equal(audit.KindAccessAttempt, kinds[len(kinds)-1])
	})

	s.Run("signing succeeds exactly once", func() {
		contract, code := s.readyForExternal("C-153")

		first, err := s.service.SignExternal(s.ctx, contract.ID, code, evidence)
		s.Require().NoError(err)
		s.True(first.Signed())

		_, err = s.service.SignExternal(s.ctx, contract.ID, code, evidence)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// Cancel Tests
// =============================================================================

func (s *ContractServiceSuite) TestCancel() {
	s.Run("draft cancellation is an exclusion", func() {
		contract := s.createDraft("C-160")
		cancelled, err := s.service.Cancel(s.ctx, contract.ID, "proposta retirada")
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, cancelled.Status)
		s.Equal("proposta retirada", cancelled.CancelReason)

		kinds := s.auditKinds(contract.ID)
		s.Equal(audit.KindContractDeleted, kinds[len(kinds)-1])
	})

	s.Run("post-draft cancellation is a cancellation proper", func() {
		contract := s.createDraft("C-161")
		_, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		_, err = s.service.Cancel(s.ctx, contract.ID, "condicoes comerciais rejeitadas")
		s.Require().NoError(err)

		kinds := s.auditKinds(contract.ID)
		s.Equal(audit.KindContractCancelled, kinds[len(kinds)-1])
	})

	s.Run("terminal states cannot be cancelled", func() {
		contract, code := s.readyForExternal("C-162")
		_, err := s.service.SignExternal(s.ctx, contract.ID, code, tokenmodels.AttemptEvidence{})
		s.Require().NoError(err)

		_, err = s.service.Cancel(s.ctx, contract.ID, "tarde demais")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		cancelled, err := s.service.Cancel(s.ctx, s.createDraft("C-163").ID, "ok")
		s.Require().NoError(err)
		_, err = s.service.Cancel(s.ctx, cancelled.ID, "de novo")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// Verification and PDF Tests
// =============================================================================

func (s *ContractServiceSuite) TestVerifyContent() {
	s.Run("matches the finalized content byte for byte", func() {
		contract := s.createDraft("C-170")
		finalized, err := s.service.Finalize(s.ctx, contract.ID)
		s.Require().NoError(err)

		_, match, err := s.service.VerifyContent(s.ctx, contract.ID, []byte(finalized.Content))
		s.Require().NoError(err)
		s.True(match)

		_, match, err = s.service.VerifyContent(s.ctx, contract.ID, []byte(finalized.Content+" "))
		s.Require().NoError(err)
		s.False(match)
	})

	s.Run("unfinalized contract has nothing to verify", func() {
		contract := s.createDraft("C-171")
		_, _, err := s.service.VerifyContent(s.ctx, contract.ID, []byte("x"))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ContractServiceSuite) TestRecordPDFGenerated() {
	contract := s.createDraft("C-180")
	s.Require().NoError(s.service.RecordPDFGenerated(s.ctx, contract.ID, "wkhtmltopdf", 182344))

	kinds := s.auditKinds(contract.ID)
	s.Equal(audit.KindPDFGenerated, kinds[len(kinds)-1])
}

// =============================================================================
// End-to-End Lifecycle
// =============================================================================

func (s *ContractServiceSuite) TestFullLifecycleAuditTrail() {
	contract, code := s.readyForExternal("C-001")

	result, err := s.service.SignExternal(s.ctx, contract.ID, code, tokenmodels.AttemptEvidence{
		IP:        "198.51.100.20",
		UserAgent: "Mozilla/5.0",
	})
	s.Require().NoError(err)
	s.True(result.Signed())

	events, err := s.auditLog.StreamFor(s.ctx, contract.ID)
	s.Require().NoError(err)

	kinds := make([]audit.Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	s.Equal([]audit.Kind{
		audit.KindContractCreated,
		audit.KindContractFinalized,
		audit.KindInternalSignature,
		audit.KindTokenIssued,
		audit.KindAccessAttempt,
		audit.KindContractCompleted,
	}, kinds)

	attempt, ok := events[4].Payload.(audit.AccessAttemptPayload)
	s.Require().True(ok)
	s.True(attempt.Success)

	completedPayload, ok := events[5].Payload.(audit.ContractCompletedPayload)
	s.Require().True(ok)
	s.Equal(result.Contract.CompletionHash, completedPayload.CompletionHash)
	s.NotEqual(result.Contract.ContentHash, completedPayload.CompletionHash)
}
