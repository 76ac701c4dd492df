package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"
)

// ============================================================================
// Content Service Client (Spotify Web API)
// ============================================================================
// The orchestrator only sees the ContentService interface. SpotifyService is
// the production implementation on top of zmb3/spotify; tests use fakes.
// ============================================================================

var (
	// ErrNoActiveDevice is returned when the account has no Connect device to play on.
	ErrNoActiveDevice = errors.New("no active playback device")

	// ErrNothingToPlay is returned by toggle when there is nothing to resume or start.
	ErrNothingToPlay = errors.New("no content to play")
)

// Device is a Spotify Connect playback device.
type Device struct {
	ID     string
	Name   string
	Active bool
}

// ContentInfo is the metadata shown on stickers and in logs.
type ContentInfo struct {
	Kind   ContentKind
	Name   string
	Artist string
	Owner  string
}

// Display is a one-line description for console output.
func (ci ContentInfo) Display() string {
	switch ci.Kind {
	case KindPlaylist:
		return "Playlist: " + ci.Name
	case KindAlbum:
		return "Album: " + ci.withArtist()
	case KindTrack:
		return "Track: " + ci.withArtist()
	default:
		return "Unknown content"
	}
}

func (ci ContentInfo) withArtist() string {
	if ci.Artist == "" {
		return ci.Name
	}
	return ci.Name + " by " + ci.Artist
}

// unknownContentInfo is the placeholder callers build when a lookup fails.
func unknownContentInfo() ContentInfo {
	return ContentInfo{Kind: KindUnknown, Name: "Unknown"}
}

// PlaybackSnapshot is what the service reports about playback right now.
type PlaybackSnapshot struct {
	Playing bool

	// ContextURI/ContextType describe the collection the track was started from, if any.
	ContextURI  string
	ContextType string

	TrackURI  string
	TrackName string
	AlbumURI  string
}

// HasItem reports whether the service has a current track (paused or playing).
func (p PlaybackSnapshot) HasItem() bool { return p.TrackURI != "" }

// ContentService is the remote music service as used by the orchestrator.
type ContentService interface {
	ActiveDevice(ctx context.Context) (Device, error)
	ContentInfo(ctx context.Context, id Identifier) (ContentInfo, error)
	Play(ctx context.Context, deviceID string, id Identifier) error
	Pause(ctx context.Context, deviceID string) error
	Resume(ctx context.Context, deviceID string) error
	Playback(ctx context.Context) (PlaybackSnapshot, error)
}

// spotifyAPI is the subset of *spotify.Client used by SpotifyService.
type spotifyAPI interface {
	CurrentUser(ctx context.Context) (*spotify.PrivateUser, error)
	PlayerDevices(ctx context.Context) ([]spotify.PlayerDevice, error)
	GetPlaylist(ctx context.Context, playlistID spotify.ID, opts ...spotify.RequestOption) (*spotify.FullPlaylist, error)
	GetAlbum(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullAlbum, error)
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
	PlayOpt(ctx context.Context, opt *spotify.PlayOptions) error
	PauseOpt(ctx context.Context, opt *spotify.PlayOptions) error
	PlayerState(ctx context.Context, opts ...spotify.RequestOption) (*spotify.PlayerState, error)
}

// SpotifyService implements ContentService against the Spotify Web API.
type SpotifyService struct {
	api     spotifyAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSpotifyService wraps an API client. requestsPerSec <= 0 disables client-side rate limiting.
func NewSpotifyService(api spotifyAPI, requestsPerSec float64, logger *slog.Logger) *SpotifyService {
	lim := rate.NewLimiter(rate.Inf, 0)
	if requestsPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(requestsPerSec), 3)
	}
	return &SpotifyService{api: api, limiter: lim, logger: logger}
}

func (s *SpotifyService) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// DisplayName returns the authenticated user's display name.
func (s *SpotifyService) DisplayName(ctx context.Context) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	u, err := s.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}
	if u.DisplayName != "" {
		return u.DisplayName, nil
	}
	return u.ID, nil
}

// ActiveDevice prefers the device marked active, else the first listed one.
func (s *SpotifyService) ActiveDevice(ctx context.Context) (Device, error) {
	if err := s.wait(ctx); err != nil {
		return Device{}, err
	}
	devices, err := s.api.PlayerDevices(ctx)
	if err != nil {
		return Device{}, fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return Device{}, ErrNoActiveDevice
	}

	pick := devices[0]
	for _, d := range devices {
		if d.Active {
			pick = d
			break
		}
	}
	s.logger.Debug("playback device selected", "device", pick.Name, "active", pick.Active, "devices", len(devices))
	return Device{ID: string(pick.ID), Name: pick.Name, Active: pick.Active}, nil
}

// ContentInfo resolves identifier metadata. Callers decide how to degrade on error.
func (s *SpotifyService) ContentInfo(ctx context.Context, id Identifier) (ContentInfo, error) {
	if err := s.wait(ctx); err != nil {
		return ContentInfo{}, err
	}

	switch id.Kind {
	case KindPlaylist:
		pl, err := s.api.GetPlaylist(ctx, spotify.ID(id.ID))
		if err != nil {
			return ContentInfo{}, fmt.Errorf("get playlist %s: %w", id.ID, err)
		}
		return ContentInfo{Kind: KindPlaylist, Name: pl.Name, Owner: pl.Owner.DisplayName}, nil

	case KindAlbum:
		al, err := s.api.GetAlbum(ctx, spotify.ID(id.ID))
		if err != nil {
			return ContentInfo{}, fmt.Errorf("get album %s: %w", id.ID, err)
		}
		return ContentInfo{Kind: KindAlbum, Name: al.Name, Artist: firstArtist(al.Artists)}, nil

	case KindTrack:
		tr, err := s.api.GetTrack(ctx, spotify.ID(id.ID))
		if err != nil {
			return ContentInfo{}, fmt.Errorf("get track %s: %w", id.ID, err)
		}
		return ContentInfo{Kind: KindTrack, Name: tr.Name, Artist: firstArtist(tr.Artists)}, nil

	default:
		return ContentInfo{}, fmt.Errorf("%w: kind %q", ErrInvalidIdentifier, id.Kind)
	}
}

// Play starts id on deviceID. Tracks are queued as a single uri, collections as a context.
func (s *SpotifyService) Play(ctx context.Context, deviceID string, id Identifier) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	opt := &spotify.PlayOptions{DeviceID: deviceIDPtr(deviceID)}
	uri := spotify.URI(id.String())
	if id.Kind == KindTrack {
		opt.URIs = []spotify.URI{uri}
	} else {
		opt.PlaybackContext = &uri
	}
	if err := s.api.PlayOpt(ctx, opt); err != nil {
		return fmt.Errorf("start playback %s: %w", id, err)
	}
	return nil
}

// Pause pauses playback on deviceID.
func (s *SpotifyService) Pause(ctx context.Context, deviceID string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.api.PauseOpt(ctx, &spotify.PlayOptions{DeviceID: deviceIDPtr(deviceID)}); err != nil {
		return fmt.Errorf("pause playback: %w", err)
	}
	return nil
}

// Resume resumes whatever the device had loaded.
func (s *SpotifyService) Resume(ctx context.Context, deviceID string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.api.PlayOpt(ctx, &spotify.PlayOptions{DeviceID: deviceIDPtr(deviceID)}); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	return nil
}

// Playback returns the raw player state. An empty snapshot means nothing is loaded.
func (s *SpotifyService) Playback(ctx context.Context) (PlaybackSnapshot, error) {
	if err := s.wait(ctx); err != nil {
		return PlaybackSnapshot{}, err
	}
	st, err := s.api.PlayerState(ctx)
	if err != nil {
		return PlaybackSnapshot{}, fmt.Errorf("player state: %w", err)
	}
	if st == nil {
		return PlaybackSnapshot{}, nil
	}

	snap := PlaybackSnapshot{
		Playing:     st.Playing,
		ContextURI:  string(st.PlaybackContext.URI),
		ContextType: st.PlaybackContext.Type,
	}
	if snap.ContextType == "" && snap.ContextURI != "" {
		snap.ContextType = uriKind(snap.ContextURI)
	}
	if st.Item != nil {
		snap.TrackURI = string(st.Item.URI)
		snap.TrackName = st.Item.Name
		snap.AlbumURI = string(st.Item.Album.URI)
		if snap.AlbumURI == "" && st.Item.Album.ID != "" {
			snap.AlbumURI = Identifier{Kind: KindAlbum, ID: string(st.Item.Album.ID)}.String()
		}
	}
	return snap, nil
}

func firstArtist(artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

func deviceIDPtr(id string) *spotify.ID {
	if id == "" {
		return nil
	}
	sid := spotify.ID(id)
	return &sid
}

// uriKind returns the kind segment of a spotify:<kind>:<id> uri, or "".
func uriKind(uri string) string {
	parts := strings.SplitN(uri, ":", 3)
	if len(parts) != 3 || parts[0] != uriScheme {
		return ""
	}
	return parts[1]
}

// apiTimeout bounds a single orchestrator action against the Web API.
const apiTimeout = 15 * time.Second
