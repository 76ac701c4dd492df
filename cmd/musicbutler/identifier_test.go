package main

import (
	"errors"
	"strings"
	"testing"
	"testing/quick"
)

func hasSupportedPrefix(s string) bool {
	for _, p := range identifierPrefixes {
		if strings.HasPrefix(s, p.prefix) {
			return true
		}
	}
	return false
}

func TestIsValid_RandomStringsWithoutPrefix(t *testing.T) {
	f := func(s string) bool {
		if hasSupportedPrefix(s) {
			// quick.Check will practically never generate one, but keep the property exact.
			return true
		}
		return !IsValid(s)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 5000}); err != nil {
		t.Fatal(err)
	}
}

func TestIsValid_PrefixPlusSuffix(t *testing.T) {
	for _, p := range identifierPrefixes {
		p := p
		f := func(suffix string) bool {
			return IsValid(p.prefix+suffix) == (suffix != "")
		}
		if err := quick.Check(f, &quick.Config{MaxCount: 2000}); err != nil {
			t.Fatalf("prefix %q: %v", p.prefix, err)
		}
	}
}

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		want    Identifier
		wantErr bool
	}{
		{in: "spotify:album:ABC123", want: Identifier{Kind: KindAlbum, ID: "ABC123"}},
		{in: "spotify:playlist:37i9dQZF1DX4WYpdgoIcn6", want: Identifier{Kind: KindPlaylist, ID: "37i9dQZF1DX4WYpdgoIcn6"}},
		{in: "spotify:track:XYZ", want: Identifier{Kind: KindTrack, ID: "XYZ"}},
		{in: "spotify:track:", wantErr: true},
		{in: "spotify:artist:0OdUWJ0sBjDrqHygGUXeCF", wantErr: true},
		{in: "https://open.spotify.com/album/ABC123", wantErr: true},
		{in: "SPOTIFY:album:ABC", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseIdentifier(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidIdentifier) {
				t.Errorf("ParseIdentifier(%q) error = %v, want ErrInvalidIdentifier", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIdentifier(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseIdentifier(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestIdentifierFromURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://open.spotify.com/album/ABC123", want: "spotify:album:ABC123"},
		{in: "https://open.spotify.com/playlist/37i9dQ?si=abcdef", want: "spotify:playlist:37i9dQ"},
		{in: "https://open.spotify.com/intl-de/track/XYZ", want: "spotify:track:XYZ"},
		{in: "  spotify:track:XYZ ", want: "spotify:track:XYZ"},
		{in: "https://open.spotify.com/artist/123", wantErr: true},
		{in: "https://example.com/album/ABC123", wantErr: true},
		{in: "https://open.spotify.com/album", wantErr: true},
	}

	for _, tt := range tests {
		got, err := IdentifierFromURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("IdentifierFromURL(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("IdentifierFromURL(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("IdentifierFromURL(%q) = %q, want %q", tt.in, got.String(), tt.want)
		}
	}
}
