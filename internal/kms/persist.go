package kms

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// loadRecords reads the JSON keystore file, returning an empty map if
// it does not yet exist.
func loadRecords(path string) (map[string]*record, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]*record{}, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read KMS keystore", err)
	}
	var records map[string]*record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to parse KMS keystore", err)
	}
	return records, nil
}

// saveRecords atomically rewrites the JSON keystore file.
func saveRecords(path string, records map[string]*record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return apierr.Wrap(apierr.KindConfiguration, apierr.CodeConfigurationCorrupted, "failed to serialize KMS keystore", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create KMS keystore directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-kms-*")
	if err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to create temp KMS keystore file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to write temp KMS keystore file", err)
	}
	if err := tmp.Close(); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to close temp KMS keystore file", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to set KMS keystore permissions", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to rename temp KMS keystore file into place", err)
	}
	return nil
}
