package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = appName
	// keyringIndex lists the site keys held in the keychain, which
	// go-keyring cannot enumerate on its own
	keyringIndex = "sites"
)

// KeyringStore keeps one keychain item per site under the service
// "partysync", named by the site key
type KeyringStore struct{}

// NewKeyringStore fails when no keychain is reachable
func NewKeyringStore() (*KeyringStore, error) {
	if _, err := keyring.Get(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	return &KeyringStore{}, nil
}

// Store writes the account of a site and adds it to the index
func (k *KeyringStore) Store(account *Account) error {
	if account == nil || !account.valid() {
		return ErrInvalidCredentials
	}
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := keyring.Set(keyringService, account.Key(), string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	keys := k.index()
	if !slices.Contains(keys, account.Key()) {
		keys = append(keys, account.Key())
	}
	return k.writeIndex(keys)
}

// Retrieve reads the account of a site
func (k *KeyringStore) Retrieve(site Site) (*Account, error) {
	if !site.valid() {
		return nil, ErrInvalidCredentials
	}
	return k.get(site.Key())
}

// List reads every indexed site. Keys whose item vanished are skipped.
func (k *KeyringStore) List() ([]*Account, error) {
	var accounts []*Account
	for _, key := range k.index() {
		account, err := k.get(key)
		if errors.Is(err, ErrCredentialsNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete removes the item of a site and its index entry
func (k *KeyringStore) Delete(site Site) error {
	if !site.valid() {
		return ErrInvalidCredentials
	}
	if err := keyring.Delete(keyringService, site.Key()); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	var keys []string
	for _, key := range k.index() {
		if key != site.Key() {
			keys = append(keys, key)
		}
	}
	return k.writeIndex(keys)
}

func (k *KeyringStore) get(key string) (*Account, error) {
	data, err := keyring.Get(keyringService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("keyring item %s is corrupt: %w", key, err)
	}
	return &account, nil
}

func (k *KeyringStore) index() []string {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil || data == "" {
		return nil
	}
	return strings.Split(data, "\n")
}

func (k *KeyringStore) writeIndex(keys []string) error {
	if len(keys) == 0 {
		if err := keyring.Delete(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to update keyring index: %w", err)
		}
		return nil
	}
	sort.Strings(keys)
	if err := keyring.Set(keyringService, keyringIndex, strings.Join(keys, "\n")); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}
