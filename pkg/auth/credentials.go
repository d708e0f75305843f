package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const appName = "partysync"

// Site is one mirror a session belongs to: a source reached at a host.
// kemono.su and kemono.party hand out different session cookies, so they
// are different sites.
type Site struct {
	Source string `json:"source"`
	Host   string `json:"host"`
}

// NewSite builds the site of source served at baseURL. A baseURL without a
// scheme is read as a bare host.
func NewSite(source, baseURL string) (Site, error) {
	source = normalizeSource(source)
	if source == "" {
		return Site{}, errors.New("source is required")
	}
	raw := strings.TrimSpace(baseURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Site{}, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return Site{}, fmt.Errorf("base URL %q has no host", baseURL)
	}
	return Site{Source: source, Host: strings.ToLower(u.Host)}, nil
}

// Key identifies the site in every store
func (s Site) Key() string {
	if s.Host == "" {
		return s.Source
	}
	return s.Source + "@" + s.Host
}

func (s Site) String() string { return s.Key() }

func (s Site) valid() bool { return s.Source != "" && s.Host != "" }

// Account is the session of one site. The session token is the value of
// the site's "session" cookie.
type Account struct {
	Site
	SessionToken string    `json:"session_token"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore keeps sessions keyed by site
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(site Site) (*Account, error)
	List() ([]*Account, error)
	Delete(site Site) error
}

// Manager tries its stores in order: writes go to the first store that
// accepts them, reads come from the first store that has the site.
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager over the system keyring, the
// session vault in configDir and the environment. An empty configDir uses
// the per-user config directory.
func NewManager(configDir string) (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	if configDir == "" {
		dir, err := defaultConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configDir = dir
	}

	vault, err := OpenVault(filepath.Join(configDir, "sessions.vault"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session vault: %w", err)
	}
	stores = append(stores, vault, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores, in order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the session of account.Site
func (m *Manager) Store(account *Account) error {
	if account == nil || !account.valid() {
		return fmt.Errorf("%w: source and host are required", ErrInvalidCredentials)
	}
	token := strings.TrimSpace(account.SessionToken)
	if token == "" {
		return fmt.Errorf("%w: session token is required", ErrInvalidCredentials)
	}

	stored := &Account{
		Site:         Site{Source: normalizeSource(account.Source), Host: strings.ToLower(account.Host)},
		SessionToken: token,
		LastModified: time.Now(),
	}

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(stored); err != nil {
			lastErr = err
			continue
		}
		*account = *stored
		return nil
	}
	if lastErr == nil {
		lastErr = ErrStoreUnavailable
	}
	return fmt.Errorf("failed to store session for %s: %w", stored.Site, lastErr)
}

// Retrieve returns the session of site
func (m *Manager) Retrieve(site Site) (*Account, error) {
	site.Source = normalizeSource(site.Source)
	site.Host = strings.ToLower(site.Host)
	for _, store := range m.stores {
		if account, err := store.Retrieve(site); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrCredentialsNotFound, site)
}

// SessionToken returns the token of site, or "" when there is none
func (m *Manager) SessionToken(site Site) string {
	account, err := m.Retrieve(site)
	if err != nil {
		return ""
	}
	return account.SessionToken
}

// List returns every stored session sorted by site. When several stores
// hold the same site the most recently modified copy wins.
func (m *Manager) List() ([]*Account, error) {
	latest := make(map[string]*Account)
	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			key := account.Key()
			if existing, ok := latest[key]; !ok || account.LastModified.After(existing.LastModified) {
				latest[key] = account
			}
		}
	}

	result := make([]*Account, 0, len(latest))
	for _, account := range latest {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key() < result[j].Key() })
	return result, nil
}

// Delete removes the session of site from every store that can forget it
func (m *Manager) Delete(site Site) error {
	site.Source = normalizeSource(site.Source)
	site.Host = strings.ToLower(site.Host)

	deleted := false
	for _, store := range m.stores {
		err := store.Delete(site)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			return fmt.Errorf("failed to delete session for %s: %w", site, err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w for %s", ErrCredentialsNotFound, site)
	}
	return nil
}

func defaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

// SanitizeAccount copies account with the token masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	masked := *account
	masked.SessionToken = maskToken(account.SessionToken)
	return &masked
}

// maskToken keeps the first and last four characters
func maskToken(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
