package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// spotifyScopes are the permissions the butler needs: read and control playback,
// read private playlists for sticker titles.
var spotifyScopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopePlaylistReadPrivate,
}

func oauthConfig(cfg SpotifyConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       spotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
	}
}

// persistingTokenSource refreshes through oauth2 and writes every new token to the cache.
// Reset swaps in a token obtained elsewhere (external re-authentication).
type persistingTokenSource struct {
	ctx   context.Context
	conf  *oauth2.Config
	cache *TokenCache
	log   *slog.Logger

	mu   sync.Mutex
	base oauth2.TokenSource
	last string
}

func newPersistingTokenSource(ctx context.Context, conf *oauth2.Config, cache *TokenCache, tok *oauth2.Token, logger *slog.Logger) *persistingTokenSource {
	return &persistingTokenSource{
		ctx:   ctx,
		conf:  conf,
		cache: cache,
		log:   logger,
		base:  conf.TokenSource(ctx, tok),
		last:  tok.AccessToken,
	}
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh spotify token: %w", err)
	}
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.cache.Save(tok); err != nil {
			p.log.Warn("could not persist refreshed token", "error", err)
		} else {
			p.log.Debug("refreshed token saved", "expiry", tok.Expiry)
		}
	}
	return tok, nil
}

func (p *persistingTokenSource) Reset(tok *oauth2.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = p.conf.TokenSource(p.ctx, tok)
	p.last = tok.AccessToken
}

// newSpotifyClient builds an API client from the cached token. ctx must outlive the client.
func newSpotifyClient(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token, cache *TokenCache, logger *slog.Logger) (*spotify.Client, *persistingTokenSource) {
	ts := newPersistingTokenSource(ctx, conf, cache, tok, logger)
	return spotify.New(newTokenHTTPClient(ts), spotify.WithRetry(true)), ts
}

// newTokenHTTPClient authorizes every request with ts.Token(). Unlike oauth2.NewClient
// it adds no reuse cache of its own, so a Reset takes effect on the next request.
func newTokenHTTPClient(ts oauth2.TokenSource) *http.Client {
	return &http.Client{Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport}}
}

// ErrStateMismatch is returned when the pasted callback belongs to another login attempt.
var ErrStateMismatch = errors.New("oauth state mismatch")

// authenticate runs the interactive authorization code flow: it prints the consent URL,
// reads the redirected URL the user pastes back, exchanges the code and saves the token.
func authenticate(ctx context.Context, conf *oauth2.Config, cache *TokenCache, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	state := uuid.NewString()
	fmt.Fprintln(out, "Open this URL in a browser and approve access:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  "+conf.AuthCodeURL(state, oauth2.AccessTypeOffline))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "After approving, the browser is sent to %s (the page may fail to load).\n", conf.RedirectURL)
	fmt.Fprint(out, "Paste the full URL from the address bar here: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("read callback url: %w", err)
	}

	code, err := parseCallback(strings.TrimSpace(line), state)
	if err != nil {
		return nil, err
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := cache.Save(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// parseCallback extracts the authorization code from a pasted redirect URL.
func parseCallback(raw, wantState string) (string, error) {
	if raw == "" {
		return "", errors.New("no callback url given")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization denied: %s", e)
	}
	if q.Get("state") != wantState {
		return "", ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("callback url has no code parameter")
	}
	return code, nil
}
