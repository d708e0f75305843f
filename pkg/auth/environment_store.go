package auth

import (
	"os"
	"strings"
	"time"
)

// knownSources are the sources EnvironmentStore.List looks for
var knownSources = []string{"kemono", "coomer"}

// EnvironmentStore reads sessions from PARTYSYNC_<SOURCE>_SESSION. A variable
// is not tied to a host, so it answers for every site of its source. It is
// read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// EnvVar names the variable holding the session of source
func EnvVar(source string) string {
	return "PARTYSYNC_" + strings.ToUpper(normalizeSource(source)) + "_SESSION"
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve answers with the variable of site.Source
func (e *EnvironmentStore) Retrieve(site Site) (*Account, error) {
	if site.Source == "" {
		return nil, ErrInvalidCredentials
	}
	token := strings.TrimSpace(os.Getenv(EnvVar(site.Source)))
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	return &Account{Site: site, SessionToken: token, LastModified: time.Now()}, nil
}

// List reports the set variables as host-less sites
func (e *EnvironmentStore) List() ([]*Account, error) {
	var accounts []*Account
	for _, source := range knownSources {
		if account, err := e.Retrieve(Site{Source: source}); err == nil {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(site Site) error {
	return ErrStoreUnavailable
}
