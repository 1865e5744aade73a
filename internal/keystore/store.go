package keystore

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/mnemonic"
)

const (
	configFileName = "config.enc"
	legacyFileName = ".cybs3.vaults"
	dataKeySize    = 32
	dirMode        = 0o700
	fileMode       = 0o600
)

// Store is the single-writer handle onto one on-disk encrypted
// configuration. All mutations go through Store's mutex; readers may
// inspect Config() without holding it, but must re-fetch after any
// mutating call since Config() returns a snapshot.
type Store struct {
	mu        sync.Mutex
	dir       string
	masterKey []byte
	cfg       *EncryptedConfig
}

// Load implements the load protocol: ensure the config directory
// exists, migrate a legacy vaults file if present and the config file
// is not, generate a fresh config if neither exists, or decrypt and
// upgrade the existing one.
func Load(dir, mnemonicPhrase string) (*Store, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create config directory", err)
	}
	if err := os.Chmod(dir, dirMode); err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to set config directory permissions", err)
	}

	masterKey, err := mnemonic.DeriveMasterKey(mnemonicPhrase)
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(dir, configFileName)
	legacyPath := filepath.Join(dir, legacyFileName)

	configBytes, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		if _, legacyErr := os.Stat(legacyPath); legacyErr == nil {
			return migrateLegacy(dir, masterKey)
		}
		return newStore(dir, masterKey)
	case err != nil:
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read config file", err)
	}

	plaintext, err := decryptConfigBytes(masterKey, configBytes)
	if err != nil {
		return nil, err
	}

	var cfg EncryptedConfig
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return nil, apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to parse decrypted config", err)
	}
	if cfg.Version > CurrentVersion {
		return nil, apierr.New(apierr.KindConfiguration, apierr.CodeUnsupportedVersion, "config file version is newer than this build supports")
	}
	s := &Store{dir: dir, masterKey: masterKey, cfg: &cfg}
	if cfg.Version < CurrentVersion {
		s.cfg.Version = CurrentVersion
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// decryptConfigBytes tries the current HMAC-prefixed format first,
// then falls back to the legacy v1 format (a bare sealed payload with
// no HMAC prefix).
func decryptConfigBytes(masterKey, raw []byte) ([]byte, error) {
	if pt, err := openFile(masterKey, raw); err == nil {
		return pt, nil
	}
	if pt, err := openPayload(masterKey, raw); err == nil {
		return pt, nil
	}
	return nil, apierr.New(apierr.KindConfiguration, apierr.CodeDecryptionFailed, "config file did not decrypt under either current or legacy format")
}

func newStore(dir string, masterKey []byte) (*Store, error) {
	dataKey := make([]byte, dataKeySize)
	if _, err := rand.Read(dataKey); err != nil {
		return nil, apierr.Wrap(apierr.KindCrypto, apierr.CodeEncryptionFailed, "failed to generate data key", err)
	}
	s := &Store{dir: dir, masterKey: masterKey, cfg: newEmptyConfig(dataKey)}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// legacyVaultsFile is the pre-migration on-disk shape: a bare sealed
// JSON blob (no HMAC prefix) holding only vault definitions.
type legacyVaultsFile struct {
	Vaults map[string]VaultConfig `json:"vaults"`
}

// migrateLegacy decrypts a legacy vaults file under masterKey, copies
// its vaults into a fresh config, and sets DataKey equal to masterKey
// verbatim -- the only way pre-migration object ciphertext stays
// readable, since it was sealed under the legacy MasterKey directly.
func migrateLegacy(dir string, masterKey []byte) (*Store, error) {
	legacyPath := filepath.Join(dir, legacyFileName)
	raw, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read legacy vaults file", err)
	}
	plaintext, err := openPayload(masterKey, raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConfiguration, apierr.CodeDecryptionFailed, "failed to decrypt legacy vaults file", err)
	}
	var legacy legacyVaultsFile
	if err := json.Unmarshal(plaintext, &legacy); err != nil {
		return nil, apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to parse legacy vaults file", err)
	}

	cfg := newEmptyConfig(append([]byte(nil), masterKey...))
	cfg.Vaults = legacy.Vaults

	s := &Store{dir: dir, masterKey: masterKey, cfg: cfg}
	if err := s.save(); err != nil {
		return nil, err
	}

	_ = os.Rename(legacyPath, legacyPath+".bak")
	return s, nil
}

// Config returns a snapshot of the current in-memory configuration.
// Callers must not mutate the returned value's maps in place; go
// through Store's mutating methods instead.
func (s *Store) Config() EncryptedConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// DataKey returns the data key that wraps object and key material.
func (s *Store) DataKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.cfg.DataKey...)
}

// save serializes, seals, and atomically rewrites the config file.
// Callers must hold s.mu.
func (s *Store) save() error {
	plaintext, err := json.Marshal(s.cfg)
	if err != nil {
		return apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to serialize config", err)
	}
	sealed, err := sealFile(s.masterKey, plaintext)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, configFileName), sealed)
}

// writeFileAtomic writes to a temp file in the same directory and
// renames it into place, so a crash mid-write never leaves a
// half-written config file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create temp config file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op if rename succeeded

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to write temp config file", err)
	}
	if err := tmp.Close(); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to close temp config file", err)
	}
	if err := os.Chmod(tmpPath, fileMode); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to set config file permissions", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to rename temp config file into place", err)
	}
	return nil
}

// RotateKey re-derives the master key from newMnemonic and rewrites
// the config file under it. The DataKey, and therefore all
// already-sealed ciphertext, is untouched.
func (s *Store) RotateKey(newMnemonic string) error {
	newKey, err := mnemonic.DeriveMasterKey(newMnemonic)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterKey = newKey
	return s.save()
}
