package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ContentKind is the kind segment of a content identifier.
type ContentKind string

const (
	KindPlaylist ContentKind = "playlist"
	KindAlbum    ContentKind = "album"
	KindTrack    ContentKind = "track"

	// KindUnknown is only used by ContentInfo placeholders; it never parses.
	KindUnknown ContentKind = "unknown"
)

const uriScheme = "spotify"

// ErrInvalidIdentifier is returned for text that is not one of the supported identifier forms.
var ErrInvalidIdentifier = errors.New("invalid content identifier")

// identifierPrefixes are the only accepted prefixes, in the order they are checked.
var identifierPrefixes = []struct {
	prefix string
	kind   ContentKind
}{
	{uriScheme + ":playlist:", KindPlaylist},
	{uriScheme + ":album:", KindAlbum},
	{uriScheme + ":track:", KindTrack},
}

// Identifier names a playable unit in the service's own addressing scheme.
type Identifier struct {
	Kind ContentKind `json:"kind"`
	ID   string      `json:"id"`
}

// String renders the identifier as a service URI (spotify:<kind>:<id>).
func (id Identifier) String() string {
	return uriScheme + ":" + string(id.Kind) + ":" + id.ID
}

// IsContainer reports whether the identifier can be used as a playback context.
func (id Identifier) IsContainer() bool {
	return id.Kind == KindPlaylist || id.Kind == KindAlbum
}

// IsValid reports whether text is a supported content identifier.
func IsValid(text string) bool {
	_, err := ParseIdentifier(text)
	return err == nil
}

// ParseIdentifier parses a service URI. Web URLs are rejected; use IdentifierFromURL for those.
func ParseIdentifier(text string) (Identifier, error) {
	for _, p := range identifierPrefixes {
		if !strings.HasPrefix(text, p.prefix) {
			continue
		}
		id := text[len(p.prefix):]
		if id == "" {
			return Identifier{}, fmt.Errorf("%w: empty id in %q", ErrInvalidIdentifier, text)
		}
		return Identifier{Kind: p.kind, ID: id}, nil
	}
	return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, text)
}

// IdentifierFromURL converts an open.spotify.com share link into an identifier.
//
// Accepted forms:
//
//	https://open.spotify.com/album/ID
//	https://open.spotify.com/playlist/ID?si=...
//	https://open.spotify.com/intl-de/track/ID
//
// Service URIs are passed through ParseIdentifier unchanged.
func IdentifierFromURL(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, uriScheme+":") {
		return ParseIdentifier(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: parse url: %v", ErrInvalidIdentifier, err)
	}
	if u.Host != "open.spotify.com" {
		return Identifier{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidIdentifier, u.Host)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Localised links carry an "intl-xx" segment first.
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) != 2 {
		return Identifier{}, fmt.Errorf("%w: unexpected path %q", ErrInvalidIdentifier, u.Path)
	}

	return ParseIdentifier(uriScheme + ":" + parts[0] + ":" + parts[1])
}

// looksLikeURL reports whether text is a web link rather than a content URI.
func looksLikeURL(text string) bool {
	return strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://")
}
