package testutil

import "loanflow/internal/encryption"

// NewTestEncryptor returns the keyless masking encryptor. Use FailWith to
// make document encryption fail.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
