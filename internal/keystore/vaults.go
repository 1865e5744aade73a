package keystore

import (
	"time"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

// AddVault inserts or replaces a vault definition and persists the
// change.
func (s *Store) AddVault(v VaultConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if s.cfg.Vaults == nil {
		s.cfg.Vaults = map[string]VaultConfig{}
	}
	s.cfg.Vaults[v.Name] = v
	if s.cfg.ActiveVaultName == "" {
		s.cfg.ActiveVaultName = v.Name
	}
	return s.save()
}

// RemoveVault deletes a vault definition by name.
func (s *Store) RemoveVault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cfg.Vaults[name]; !ok {
		return apierr.New(apierr.KindResource, apierr.CodeVaultNotFound, "no such vault").WithResource(name)
	}
	delete(s.cfg.Vaults, name)
	if s.cfg.ActiveVaultName == name {
		s.cfg.ActiveVaultName = ""
	}
	return s.save()
}

// Vault looks up a vault definition by name.
func (s *Store) Vault(name string) (VaultConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cfg.Vaults[name]
	if !ok {
		return VaultConfig{}, apierr.New(apierr.KindResource, apierr.CodeVaultNotFound, "no such vault").WithResource(name)
	}
	return v, nil
}

// SetActiveVault marks name as the active vault, failing if it is not
// defined.
func (s *Store) SetActiveVault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cfg.Vaults[name]; !ok {
		return apierr.New(apierr.KindResource, apierr.CodeVaultNotFound, "no such vault").WithResource(name)
	}
	s.cfg.ActiveVaultName = name
	return s.save()
}

// ActiveVault returns the currently active vault, if any is set.
func (s *Store) ActiveVault() (VaultConfig, error) {
	s.mu.Lock()
	active := s.cfg.ActiveVaultName
	s.mu.Unlock()
	if active == "" {
		return VaultConfig{}, apierr.New(apierr.KindConfiguration, apierr.CodeConfigurationNotFound, "no active vault is set")
	}
	return s.Vault(active)
}
