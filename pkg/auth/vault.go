package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"partysync/pkg/storage"
)

const (
	vaultVersion    = 1
	vaultIterations = 210000
	vaultSaltSize   = 16
	vaultKeySize    = 32

	// PassphraseEnv overrides the generated key file of the vault
	PassphraseEnv = "PARTYSYNC_PASSPHRASE"
)

// vaultFile is the on-disk layout. Only tokens are sealed, each bound to its
// site key so a sealed token cannot be moved to another site.
type vaultFile struct {
	Version    int                      `json:"version"`
	Salt       []byte                   `json:"salt"`
	Iterations int                      `json:"iterations"`
	Sessions   map[string]sealedSession `json:"sessions"`
}

type sealedSession struct {
	Site    Site      `json:"site"`
	Nonce   []byte    `json:"nonce"`
	Token   []byte    `json:"token"`
	Updated time.Time `json:"updated"`
}

// Vault keeps sessions in a file, tokens sealed with AES-GCM under a key
// derived from a passphrase. The passphrase comes from PARTYSYNC_PASSPHRASE
// or from a key file generated next to the vault on first use.
type Vault struct {
	path       string
	passphrase string

	mu sync.Mutex
	// key is derived once per salt
	key  []byte
	salt []byte
}

// OpenVault prepares the vault at path. The file itself is created on the
// first Store.
func OpenVault(path string) (*Vault, error) {
	passphrase, err := vaultPassphrase(path + ".key")
	if err != nil {
		return nil, err
	}
	return &Vault{path: path, passphrase: passphrase}, nil
}

// Path is the vault file
func (v *Vault) Path() string { return v.path }

// Store seals the token of account.Site
func (v *Vault) Store(account *Account) error {
	if account == nil || !account.valid() {
		return ErrInvalidCredentials
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	vf, err := v.load()
	if err != nil {
		return err
	}
	aead, err := v.cipher(vf)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	key := account.Key()
	vf.Sessions[key] = sealedSession{
		Site:    account.Site,
		Nonce:   nonce,
		Token:   aead.Seal(nil, nonce, []byte(account.SessionToken), []byte(key)),
		Updated: account.LastModified,
	}
	return v.save(vf)
}

// Retrieve opens the token of site
func (v *Vault) Retrieve(site Site) (*Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	vf, err := v.load()
	if err != nil {
		return nil, err
	}
	sealed, ok := vf.Sessions[site.Key()]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return v.open(vf, site.Key(), sealed)
}

// List opens every token in the vault
func (v *Vault) List() ([]*Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	vf, err := v.load()
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(vf.Sessions))
	for key, sealed := range vf.Sessions {
		account, err := v.open(vf, key, sealed)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete drops the session of site; the file goes away with the last one
func (v *Vault) Delete(site Site) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	vf, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := vf.Sessions[site.Key()]; !ok {
		return ErrCredentialsNotFound
	}
	delete(vf.Sessions, site.Key())

	if len(vf.Sessions) == 0 {
		if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove vault: %w", err)
		}
		return nil
	}
	return v.save(vf)
}

func (v *Vault) load() (*vaultFile, error) {
	data, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		salt := make([]byte, vaultSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		return &vaultFile{
			Version:    vaultVersion,
			Salt:       salt,
			Iterations: vaultIterations,
			Sessions:   make(map[string]sealedSession),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("vault %s is corrupt: %w", v.path, err)
	}
	if vf.Version != vaultVersion {
		return nil, fmt.Errorf("vault %s has unsupported version %d", v.path, vf.Version)
	}
	if len(vf.Salt) == 0 || vf.Iterations <= 0 {
		return nil, fmt.Errorf("vault %s has no key parameters", v.path)
	}
	if vf.Sessions == nil {
		vf.Sessions = make(map[string]sealedSession)
	}
	return &vf, nil
}

func (v *Vault) save(vf *vaultFile) error {
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode vault: %w", err)
	}
	if err := storage.WriteFileAtomic(v.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	return nil
}

func (v *Vault) cipher(vf *vaultFile) (cipher.AEAD, error) {
	if v.key == nil || string(v.salt) != string(vf.Salt) {
		v.key = pbkdf2.Key([]byte(v.passphrase), vf.Salt, vf.Iterations, vaultKeySize, sha256.New)
		v.salt = vf.Salt
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (v *Vault) open(vf *vaultFile, key string, sealed sealedSession) (*Account, error) {
	aead, err := v.cipher(vf)
	if err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("vault entry %s is damaged", key)
	}
	token, err := aead.Open(nil, sealed.Nonce, sealed.Token, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("cannot unseal %s, wrong passphrase or tampered vault: %w", key, err)
	}
	return &Account{Site: sealed.Site, SessionToken: string(token), LastModified: sealed.Updated}, nil
}

// vaultPassphrase reads PARTYSYNC_PASSPHRASE, else the key file, creating it
// when missing
func vaultPassphrase(keyFile string) (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}

	data, err := os.ReadFile(keyFile)
	if err == nil {
		if p := strings.TrimSpace(string(data)); p != "" {
			return p, nil
		}
		return "", fmt.Errorf("key file %s is empty", keyFile)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	p := hex.EncodeToString(raw)
	if err := storage.WriteFileAtomic(keyFile, []byte(p+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	return p, nil
}
