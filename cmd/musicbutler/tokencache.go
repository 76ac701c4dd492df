package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when the token cache does not exist yet.
var ErrNoToken = errors.New("no cached token")

// tokenReloadDebounce coalesces the burst of events one atomic replace produces.
const tokenReloadDebounce = 500 * time.Millisecond

// TokenCache persists the OAuth token as JSON with mode 0600.
type TokenCache struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	lastSaved string // access token of our own last write
}

func NewTokenCache(path string, logger *slog.Logger) *TokenCache {
	return &TokenCache{path: ExpandPath(path), logger: logger}
}

func (c *TokenCache) Path() string { return c.path }

// Load reads the cached token. A missing file is ErrNoToken.
func (c *TokenCache) Load() (*oauth2.Token, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode token cache %s: %w", c.path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token cache %s holds no token", c.path)
	}
	return &tok, nil
}

// Save atomically replaces the cache file.
func (c *TokenCache) Save(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("nil token")
	}
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create token cache dir: %w", err)
	}

	pf, err := renameio.NewPendingFile(c.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending token file: %w", err)
	}
	defer func() {
		if err := pf.Cleanup(); err != nil {
			c.logger.Debug("cleanup pending token file", "error", err)
		}
	}()

	if _, err := pf.Write(b); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}

	c.mu.Lock()
	c.lastSaved = tok.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *TokenCache) isOwnWrite(tok *oauth2.Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tok.AccessToken == c.lastSaved
}

// Watch calls onChange with the new token whenever another process (typically
// `musicbutler authenticate`) rewrites the cache. It blocks until ctx is canceled.
func (c *TokenCache) Watch(ctx context.Context, onChange func(*oauth2.Token)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// The file is replaced by rename, so watch the directory.
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token cache dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	c.logger.Debug("watching token cache", "path", c.path)

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != c.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(tokenReloadDebounce)
			} else {
				debounce.Reset(tokenReloadDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			tok, err := c.Load()
			if err != nil {
				c.logger.Warn("token cache changed but could not be read", "error", err)
				continue
			}
			if c.isOwnWrite(tok) {
				continue
			}
			c.logger.Info("token cache updated externally, reloading credentials")
			onChange(tok)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("token cache watcher error", "error", err)
		}
	}
}
