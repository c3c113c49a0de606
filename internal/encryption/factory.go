package encryption

import (
	"fmt"

	"adhoc-backup/internal/backup"
	"adhoc-backup/internal/config"
)

// Deriver derives age passphrase keys with a fixed scrypt work factor.
type Deriver struct {
	WorkFactor int
}

var _ backup.KeyDeriver = Deriver{}

func (d Deriver) DeriveKey(secret string) (backup.FileEncrypter, error) {
	k, err := DeriveKey(secret, d.WorkFactor)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// NewKeyDeriverFromConfig creates a KeyDeriver based on the configuration type.
func NewKeyDeriverFromConfig(cfg config.EncryptionConfig) (backup.KeyDeriver, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.ScryptWorkFactor < 0 || cfg.ScryptWorkFactor > MaxWorkFactor {
			return nil, fmt.Errorf("scrypt_work_factor must be between 1 and %d, got %d", MaxWorkFactor, cfg.ScryptWorkFactor)
		}
		return Deriver{WorkFactor: cfg.ScryptWorkFactor}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
