// Package signer validates the internal signer's qualified credential.
//
// The identity provider issues each internal signer a JWT whose claims carry
// the metadata of the qualified certificate backing their signature: issuer
// and validity window. The contract service records that metadata as the
// evidence bundle of an internal signature.
package signer

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
)

// Credential is the validated identity of an internal signer.
type Credential struct {
	SignerID      id.SignerID
	Name          string
	Email         string
	Qualified     bool
	CertIssuer    string
	CertNotBefore time.Time
	CertNotAfter  time.Time
}

// CanSignQualified reports whether the credential authorizes a qualified
// signature at the given instant.
func (c *Credential) CanSignQualified(now time.Time) bool {
	if c == nil || !c.Qualified {
		return false
	}
	return !now.Before(c.CertNotBefore) && now.Before(c.CertNotAfter)
}

// Claims is the JWT claim set issued by the identity provider.
type Claims struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Qualified  bool   `json:"qualified_signature"`
	CertIssuer string `json:"cert_issuer"`
	CertNBF    int64  `json:"cert_nbf"`
	CertEXP    int64  `json:"cert_exp"`
	jwt.RegisteredClaims
}

// Validator verifies signer credentials issued by the identity provider.
type Validator struct {
	signingKey []byte
	issuer     string
}

func NewValidator(signingKey string, issuer string) *Validator {
	return &Validator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// ValidateCredential parses and verifies a signer JWT, returning the
// credential it asserts. The qualified-signature capability check happens at
// sign time, not here.
func (v *Validator) ValidateCredential(tokenString string) (*Credential, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "credential has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential claims")
	}

	signerID, err := id.ParseSignerID(claims.Subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "credential subject is not a signer id")
	}

	return &Credential{
		SignerID:      signerID,
		Name:          claims.Name,
		Email:         claims.Email,
		Qualified:     claims.Qualified,
		CertIssuer:    claims.CertIssuer,
		CertNotBefore: time.Unix(claims.CertNBF, 0).UTC(),
		CertNotAfter:  time.Unix(claims.CertEXP, 0).UTC(),
	}, nil
}

// IssueCredential mints a signer JWT. Production credentials come from the
// identity provider; this is used by dev tooling and tests.
func (v *Validator) IssueCredential(cred Credential, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name:       cred.Name,
		Email:      cred.Email,
		Qualified:  cred.Qualified,
		CertIssuer: cred.CertIssuer,
		CertNBF:    cred.CertNotBefore.Unix(),
		CertEXP:    cred.CertNotAfter.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.SignerID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	})
	return token.SignedString(v.signingKey)
}

type credentialKey struct{}

// WithCredential stores the validated credential in the request context.
func WithCredential(ctx context.Context, cred *Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFrom extracts the validated credential, if any.
func CredentialFrom(ctx context.Context) (*Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(*Credential)
	return cred, ok && cred != nil
}
