package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"

	"github.com/aetherbridge/AetherBridge/internal/constant"
)

// StoredAccount is the persisted form of one account. Email is the unique
// key; the refresh token additionally lives in the OS keyring when one is
// available.
type StoredAccount struct {
	Email        string    `json:"email"`
	RefreshToken string    `json:"refresh_token"`
	AddedAt      time.Time `json:"added_at"`
	LastUsed     time.Time `json:"last_used"`
}

// storeDocument is the on-disk JSON layout of accounts.json.
type storeDocument struct {
	Version     int             `json:"version"`
	Accounts    []StoredAccount `json:"accounts"`
	ActiveIndex int             `json:"active_index"`
}

// TokenStore persists accounts to a JSON document under the user config
// directory, mirroring refresh tokens into the OS keyring. The JSON file is
// authoritative; keyring failures degrade to warnings.
type TokenStore struct {
	path       string
	keyringOK  bool
	keyringSvc string
}

// NewTokenStore opens the store at the platform config directory, probing
// the OS keyring once.
func NewTokenStore() (*TokenStore, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve config directory: %w", err)
	}
	dir := filepath.Join(configDir, constant.ConfigDirName)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create config directory: %w", err)
	}
	return NewTokenStoreAt(filepath.Join(dir, constant.AccountsFileName)), nil
}

// NewTokenStoreAt opens a store backed by an explicit file path.
func NewTokenStoreAt(path string) *TokenStore {
	store := &TokenStore{path: path, keyringSvc: constant.KeyringService}
	store.keyringOK = store.probeKeyring()
	return store
}

// Path returns the backing file location, used by the accounts watcher.
func (s *TokenStore) Path() string {
	return s.path
}

func (s *TokenStore) probeKeyring() bool {
	const probeKey = "__probe__"
	if err := keyring.Set(s.keyringSvc, probeKey, "ok"); err != nil {
		log.Debugf("keyring unavailable, using file storage only: %v", err)
		return false
	}
	_ = keyring.Delete(s.keyringSvc, probeKey)
	return true
}

func (s *TokenStore) read() (*storeDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &storeDocument{Version: constant.StorageVersion}, nil
		}
		return nil, fmt.Errorf("cannot read account store: %w", err)
	}
	var doc storeDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse account store: %w", err)
	}
	return &doc, nil
}

func (s *TokenStore) write(doc *storeDocument) error {
	doc.Version = constant.StorageVersion
	if doc.ActiveIndex >= len(doc.Accounts) {
		doc.ActiveIndex = 0
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode account store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cannot write account store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// LoadAll returns every stored account. When the keyring holds a refresh
// token for an email, it takes precedence over the file copy.
func (s *TokenStore) LoadAll() ([]StoredAccount, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if s.keyringOK {
		for i := range doc.Accounts {
			secret, errGet := keyring.Get(s.keyringSvc, doc.Accounts[i].Email)
			if errGet == nil && secret != "" {
				doc.Accounts[i].RefreshToken = secret
			}
		}
	}
	return doc.Accounts, nil
}

// Add inserts or replaces the account identified by pair.Email, writing the
// refresh token to both the file and the keyring.
func (s *TokenStore) Add(pair TokenPair) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	now := time.Now()
	found := false
	for i := range doc.Accounts {
		if doc.Accounts[i].Email == pair.Email {
			doc.Accounts[i].RefreshToken = pair.RefreshToken
			doc.Accounts[i].LastUsed = now
			found = true
			break
		}
	}
	if !found {
		doc.Accounts = append(doc.Accounts, StoredAccount{
			Email:        pair.Email,
			RefreshToken: pair.RefreshToken,
			AddedAt:      now,
			LastUsed:     now,
		})
	}
	if err = s.write(doc); err != nil {
		return err
	}
	s.keyringSet(pair.Email, pair.RefreshToken)
	return nil
}

// Remove deletes the account with the given email. It reports whether an
// account was removed.
func (s *TokenStore) Remove(email string) (bool, error) {
	doc, err := s.read()
	if err != nil {
		return false, err
	}
	kept := doc.Accounts[:0]
	removed := false
	for _, account := range doc.Accounts {
		if account.Email == email {
			removed = true
			continue
		}
		kept = append(kept, account)
	}
	if !removed {
		return false, nil
	}
	doc.Accounts = kept
	if err = s.write(doc); err != nil {
		return false, err
	}
	if s.keyringOK {
		if errDel := keyring.Delete(s.keyringSvc, email); errDel != nil {
			log.Warnf("keyring delete for %s failed: %v", email, errDel)
		}
	}
	return true, nil
}

// GetRefreshToken returns the refresh token for an email, preferring the
// keyring copy.
func (s *TokenStore) GetRefreshToken(email string) (string, error) {
	if s.keyringOK {
		if secret, err := keyring.Get(s.keyringSvc, email); err == nil && secret != "" {
			return secret, nil
		}
	}
	doc, err := s.read()
	if err != nil {
		return "", err
	}
	for _, account := range doc.Accounts {
		if account.Email == email {
			return account.RefreshToken, nil
		}
	}
	return "", fmt.Errorf("no stored account for %s", email)
}

// UpdateRefreshToken persists a rotated refresh token for an account.
func (s *TokenStore) UpdateRefreshToken(email, refreshToken string) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	for i := range doc.Accounts {
		if doc.Accounts[i].Email == email {
			doc.Accounts[i].RefreshToken = refreshToken
			if err = s.write(doc); err != nil {
				return err
			}
			s.keyringSet(email, refreshToken)
			return nil
		}
	}
	return fmt.Errorf("no stored account for %s", email)
}

// MarkUsed stamps the account's last_used time.
func (s *TokenStore) MarkUsed(email string) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	for i := range doc.Accounts {
		if doc.Accounts[i].Email == email {
			doc.Accounts[i].LastUsed = time.Now()
			return s.write(doc)
		}
	}
	return nil
}

// SetActive records the preferred starting index for round-robin selection.
func (s *TokenStore) SetActive(index int) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(doc.Accounts) {
		return fmt.Errorf("active index %d out of range", index)
	}
	doc.ActiveIndex = index
	return s.write(doc)
}

// ActiveIndex returns the stored round-robin starting index.
func (s *TokenStore) ActiveIndex() (int, error) {
	doc, err := s.read()
	if err != nil {
		return 0, err
	}
	return doc.ActiveIndex, nil
}

func (s *TokenStore) keyringSet(email, secret string) {
	if !s.keyringOK {
		return
	}
	if err := keyring.Set(s.keyringSvc, email, secret); err != nil {
		log.Warnf("keyring write for %s failed: %v", email, err)
	}
}
