// Package dispatch builds the delivery payload handed to the email gateway
// when a verification code goes out to the external signer. The gateway
// itself is an external collaborator; a failed delivery leaves the issued
// token valid so the code can reach the signer through another channel.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fabrica/internal/contract/models"
	tokenmodels "fabrica/internal/token/models"
	id "fabrica/pkg/domain"
	"fabrica/pkg/email"
)

// Delivery is the payload handed to the email collaborator. Code is the
// plaintext verification code; outside of delivery it surfaces again only
// in the signature evidence of a successful redemption.
type Delivery struct {
	ContractID     id.ContractID `json:"contract_id"`
	RecipientName  string        `json:"recipient_name"`
	RecipientEmail string        `json:"recipient_email"`
	ContractTitle  string        `json:"contract_title"`
	SigningURL     string        `json:"signing_url"`
	Code           string        `json:"code"`
	ValidUntil     time.Time     `json:"valid_until"`
}

// Dispatcher sends a delivery out of band.
type Dispatcher interface {
	Send(ctx context.Context, delivery Delivery) error
}

// NewDelivery assembles the payload for a freshly issued token. When the
// declared external signer name is blank the recipient name is derived from
// the email address.
func NewDelivery(contract *models.Contract, tok *tokenmodels.VerificationToken, code, signingBaseURL string) Delivery {
	name := strings.TrimSpace(contract.ExternalSigner.Name)
	if name == "" {
		name = email.DeriveNameFromEmail(tok.RecipientEmail)
	}
	return Delivery{
		ContractID:     contract.ID,
		RecipientName:  name,
		RecipientEmail: tok.RecipientEmail,
		ContractTitle:  contract.Title,
		SigningURL:     fmt.Sprintf("%s/signing/%s", strings.TrimRight(signingBaseURL, "/"), contract.ID),
		Code:           code,
		ValidUntil:     tok.ExpiresAt.UTC(),
	}
}
