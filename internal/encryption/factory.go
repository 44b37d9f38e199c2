package encryption

import (
	"fmt"

	"loanflow/internal/config"
	"loanflow/internal/loan"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" returns nil: documents are uploaded as staged.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (loan.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
