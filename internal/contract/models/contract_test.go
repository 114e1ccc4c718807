package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fabrica/pkg/domain"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusDraft, StatusAwaitingInternalSignature, true},
		{StatusAwaitingInternalSignature, StatusAwaitingExternalSignature, true},
		{StatusAwaitingExternalSignature, StatusCompleted, true},
		{StatusDraft, StatusCancelled, true},
		{StatusAwaitingInternalSignature, StatusCancelled, true},
		{StatusAwaitingExternalSignature, StatusCancelled, true},

		{StatusDraft, StatusAwaitingExternalSignature, false},
		{StatusDraft, StatusCompleted, false},
		{StatusAwaitingInternalSignature, StatusCompleted, false},
		{StatusAwaitingExternalSignature, StatusAwaitingInternalSignature, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusDraft, false},
		{StatusCompleted, StatusDraft, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusDraft.IsTerminal())
	assert.False(t, StatusAwaitingInternalSignature.IsTerminal())
	assert.False(t, StatusAwaitingExternalSignature.IsTerminal())
}

func TestInvalidTransitionErrorNamesStates(t *testing.T) {
	err := &InvalidTransitionError{From: StatusCompleted, To: StatusCancelled}
	assert.Contains(t, err.Error(), string(StatusCompleted))
	assert.Contains(t, err.Error(), string(StatusCancelled))
}

func newTestContract(t *testing.T, now time.Time) *Contract {
	t.Helper()
	contract, err := NewContract(id.NewContractID(), "C-900", "Contrato de teste",
		InternalParty{SignerID: id.NewSignerID(), Name: "Ana", Email: "ana@fabrica.example"},
		ExternalParty{Name: "Maria", Email: "maria@fornecedor.com.br"},
		now,
	)
	require.NoError(t, err)
	contract.Content = "corpo do contrato"
	return contract
}

func TestContractLifecycle(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	t.Run("happy path applies in order", func(t *testing.T) {
		c := newTestContract(t, now)

		require.NoError(t, c.CanFinalize())
		c.ApplyFinalize("hash-1", now)
		assert.Equal(t, StatusAwaitingInternalSignature, c.Status)
		assert.Equal(t, "hash-1", c.ContentHash)
		require.NotNil(t, c.FinalizedAt)

		require.NoError(t, c.CanSignInternal())
		c.ApplySignInternal(SignatureRecord{Kind: SignatureInternalQualified, SignerName: "Ana", SignedAt: now}, now)
		assert.Equal(t, StatusAwaitingExternalSignature, c.Status)

		require.NoError(t, c.CanSignExternal())
		c.ApplySignExternal(SignatureRecord{Kind: SignatureExternalTokenVerified, SignerName: "Maria", SignedAt: now}, "hash-2", now)
		assert.Equal(t, StatusCompleted, c.Status)
		assert.Equal(t, "hash-2", c.CompletionHash)
		require.NotNil(t, c.CompletedAt)
		assert.True(t, c.IsCompleted())
	})

	t.Run("guards reject out-of-order transitions", func(t *testing.T) {
		c := newTestContract(t, now)

		var transition *InvalidTransitionError
		require.ErrorAs(t, c.CanSignInternal(), &transition)
		assert.Equal(t, StatusDraft, transition.From)

		require.ErrorAs(t, c.CanSignExternal(), &transition)

		c.ApplyFinalize("h", now)
		require.ErrorAs(t, c.CanFinalize(), &transition)
		assert.Equal(t, StatusAwaitingInternalSignature, transition.From)
	})

	t.Run("terminal states reject cancel", func(t *testing.T) {
		c := newTestContract(t, now)
		require.NoError(t, c.CanCancel())
		c.ApplyCancel("motivo", now)
		assert.Equal(t, StatusCancelled, c.Status)
		assert.Error(t, c.CanCancel())
	})

	t.Run("content mutation in draft and cancelled only", func(t *testing.T) {
		c := newTestContract(t, now)
		assert.True(t, c.CanMutateContent())
		c.ApplyFinalize("h", now)
		assert.False(t, c.CanMutateContent())

		cancelled := newTestContract(t, now)
		cancelled.ApplyCancel("motivo", now)
		assert.True(t, cancelled.CanMutateContent())
	})
}

func TestNewContractValidation(t *testing.T) {
	now := time.Now()
	internal := InternalParty{Name: "Ana", Email: "ana@fabrica.example"}
	external := ExternalParty{Email: "maria@fornecedor.com.br"}

	_, err := NewContract(id.NewContractID(), "", "titulo", internal, external, now)
	assert.Error(t, err)

	_, err = NewContract(id.NewContractID(), "C-1", "  ", internal, external, now)
	assert.Error(t, err)

	_, err = NewContract(id.NewContractID(), "C-1", "titulo", internal, ExternalParty{}, now)
	assert.Error(t, err)
}

func TestSignatureRecordJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	t.Run("qualified evidence", func(t *testing.T) {
		rec := SignatureRecord{
			Kind:       SignatureInternalQualified,
			SignerName: "Ana",
			SignedAt:   now,
			Evidence: QualifiedEvidence{
				CertIssuer:    "AC Teste",
				CertNotBefore: now.Add(-time.Hour),
				CertNotAfter:  now.Add(time.Hour),
			},
		}
		raw, err := json.Marshal(rec)
		require.NoError(t, err)

		var decoded SignatureRecord
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, rec, decoded)
	})

	t.Run("token evidence", func(t *testing.T) {
		rec := SignatureRecord{
			Kind:       SignatureExternalTokenVerified,
			SignerName: "Maria",
			SignedAt:   now,
			Evidence: TokenEvidence{
				Code:      "482913",
				IP:        "203.0.113.7",
				UserAgent: "curl/8.5.0",
			},
		}
		raw, err := json.Marshal(rec)
		require.NoError(t, err)

		var decoded SignatureRecord
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, rec, decoded)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		var decoded SignatureRecord
		err := json.Unmarshal([]byte(`{"kind":"carimbo","evidence":{}}`), &decoded)
		assert.Error(t, err)
	})
}
