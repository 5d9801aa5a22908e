package secrets

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// KeyEnv is the environment variable holding key version 1. Later versions use
// KeyEnv + "_V2", "_V3" and so on; the highest loaded version seals new values.
const KeyEnv = "SECRETS_KEY"

const maxKeyVersion = 10

// Keyring holds every loaded key version.
type Keyring struct {
	current int
	sealers map[int]*Sealer
}

// LoadKeyring reads key versions through lookup (usually os.Getenv). Version 1 is required.
func LoadKeyring(lookup func(string) string) (*Keyring, error) {
	k := &Keyring{sealers: make(map[int]*Sealer)}
	for v := 1; v <= maxKeyVersion; v++ {
		name := KeyEnv
		if v > 1 {
			name += "_V" + strconv.Itoa(v)
		}
		raw := lookup(name)
		if raw == "" {
			if v == 1 {
				return nil, fmt.Errorf("%w: %s is empty", ErrNoKey, KeyEnv)
			}
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("secrets: decode %s: %w", name, err)
		}
		s, err := NewSealer(key, v)
		if err != nil {
			return nil, fmt.Errorf("secrets: %s: %w", name, err)
		}
		k.sealers[v] = s
		k.current = v
	}
	return k, nil
}

// Current is the version used by Seal.
func (k *Keyring) Current() int { return k.current }

// Seal encrypts with the newest key.
func (k *Keyring) Seal(plaintext string) (string, error) {
	return k.sealers[k.current].Seal(plaintext)
}

// Open decrypts with whichever key version the value names.
func (k *Keyring) Open(sealed string) (string, error) {
	version, _, err := split(sealed)
	if err != nil {
		return "", err
	}
	s, ok := k.sealers[version]
	if !ok {
		return "", fmt.Errorf("%w: v%d", ErrUnknownKeyVer, version)
	}
	return s.Open(sealed)
}

// Rotate re-seals a value under the newest key.
func (k *Keyring) Rotate(sealed string) (string, error) {
	plain, err := k.Open(sealed)
	if err != nil {
		return "", err
	}
	return k.Seal(plain)
}

// Resolve returns plain values unchanged and opens sealed ones. k may be nil when no
// value is sealed.
func (k *Keyring) Resolve(v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if k == nil {
		return "", ErrNoKey
	}
	return k.Open(v)
}
