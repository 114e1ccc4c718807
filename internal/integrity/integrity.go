// Package integrity computes and checks the content hashes that make a
// contract tamper-evident. A hash binds the exact rendered bytes to the
// contract's sequential number, so two contracts with identical boilerplate
// never share a digest.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
)

// delimiter separates content bytes from the contract number inside the hash
// input. Changing it invalidates every stored digest.
const delimiter = "\x00fabrica.contract\x00"

// Service computes contract content digests.
type Service struct{}

func New() *Service { return &Service{} }

// Hash returns the hex SHA-256 digest of content bound to the contract's
// sequential number.
func (s *Service) Hash(content []byte, contractNumber string) string {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte(delimiter))
	h.Write([]byte(contractNumber))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the digest and compares it with the expected value.
// The comparison is strict byte-for-byte: any normalization or whitespace
// difference in content yields false. The digest is not a secret, so a
// constant-time comparison is not required.
func (s *Service) Verify(content []byte, contractNumber, expectedHash string) bool {
	return s.Hash(content, contractNumber) == expectedHash
}
