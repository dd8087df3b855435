package gcal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/oauth2"

	"freebusy/internal/config"
	appLog "freebusy/internal/log"
)

// TokenStore persists an OAuth2 token as JSON on disk.
type TokenStore struct {
	Path string
}

// ErrNoToken is returned by Load when nothing has been stored yet.
var ErrNoToken = errors.New("gcal: no stored token")

// Load reads the stored token.
func (s TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("gcal: decode token %s: %w", s.Path, err)
	}
	return &tok, nil
}

// Save writes tok atomically with 0600 permissions.
func (s TokenStore) Save(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("gcal: token is nil")
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.Path, data, ".freebusy-token-*.tmp")
}

// savingTokenSource writes every newly minted token back to the store so a
// refreshed access token survives the process.
type savingTokenSource struct {
	base  oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.store.Save(tok); err != nil {
			appLog.Error("gcal: failed to persist refreshed token", err, "path", s.store.Path)
		} else {
			appLog.Debug("gcal: token persisted", "path", s.store.Path, "expiry", tok.Expiry)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
