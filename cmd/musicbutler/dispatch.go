package main

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Dispatch - play / print / toggle / print-current against collaborators
// ============================================================================
// These functions hold the orchestration rules and are called from runEffect.
// They take interfaces so tests can drive them with fakes.
// ============================================================================

var (
	ErrUnsupportedContext = errors.New("unsupported playback context")
	ErrNoAlbumForTrack    = errors.New("current track has no album")
	ErrNothingToPrint     = errors.New("nothing playing and no remembered playlist or album")
	ErrPrinterDisabled    = errors.New("printer not available")
)

// StickerPrinter prints one sticker.
type StickerPrinter interface {
	PrintSticker(ctx context.Context, uri, title, subtitle string) error
}

// playContent starts id on the active device.
func playContent(ctx context.Context, svc ContentService, id Identifier) (Device, error) {
	dev, err := svc.ActiveDevice(ctx)
	if err != nil {
		return Device{}, err
	}
	if err := svc.Play(ctx, dev.ID, id); err != nil {
		return dev, err
	}
	return dev, nil
}

// togglePlayback pauses if playing, resumes if something is loaded, else starts remembered.
// It returns the new playing state.
func togglePlayback(ctx context.Context, svc ContentService, remembered *Identifier) (bool, error) {
	dev, err := svc.ActiveDevice(ctx)
	if err != nil {
		return false, err
	}

	pb, err := svc.Playback(ctx)
	if err != nil {
		return false, err
	}

	switch {
	case pb.Playing:
		if err := svc.Pause(ctx, dev.ID); err != nil {
			return false, err
		}
		return false, nil

	case pb.HasItem():
		if err := svc.Resume(ctx, dev.ID); err != nil {
			return false, err
		}
		return true, nil

	case remembered != nil:
		if err := svc.Play(ctx, dev.ID, *remembered); err != nil {
			return false, err
		}
		return true, nil

	default:
		return false, ErrNothingToPlay
	}
}

// StickerLabels derives the sticker title and subtitle.
//
// Playlists get "(Playlist)" as subtitle; when the lookup failed the title itself
// becomes "Playlist" and the subtitle is left empty. Albums and tracks show the
// artist (or owner) as subtitle.
func StickerLabels(id Identifier, info ContentInfo, lookupErr error) (title, subtitle string) {
	if lookupErr != nil {
		info = unknownContentInfo()
	}

	title = info.Name
	if title == "" {
		title = "Unknown"
	}

	if id.Kind == KindPlaylist || info.Kind == KindPlaylist {
		if title == "Unknown" && info.Kind == KindUnknown {
			return "Playlist", ""
		}
		return title, "(Playlist)"
	}

	subtitle = info.Artist
	if subtitle == "" {
		subtitle = info.Owner
	}
	return title, subtitle
}

// printSticker resolves labels for id and prints it.
func printSticker(ctx context.Context, svc ContentService, printer StickerPrinter, id Identifier) (string, error) {
	if printer == nil {
		return "", ErrPrinterDisabled
	}
	info, lookupErr := svc.ContentInfo(ctx, id)
	title, subtitle := StickerLabels(id, info, lookupErr)
	if err := printer.PrintSticker(ctx, id.String(), title, subtitle); err != nil {
		return title, err
	}
	return title, nil
}

// PrintSource says where a print-current target came from.
type PrintSource int

const (
	SourceLiveContext PrintSource = iota
	SourceTrackAlbum
	SourceRemembered
)

// PrintTarget is the resolved content for a print-current request.
type PrintTarget struct {
	ID     Identifier
	Source PrintSource
	Label  string
}

// resolvePrintTarget applies the print-current fallback tiers.
//
// live is nil when the service reports nothing playing (or could not be asked).
//
//  1. live context is a playlist or album: print it.
//  2. live track without context: print the track's album.
//  3. live context of another kind: fail, no fallback.
//  4. nothing live: remembered context if it is a playlist or album.
func resolvePrintTarget(live *PlaybackSnapshot, remembered *Identifier) (PrintTarget, error) {
	if live != nil {
		if live.ContextURI != "" {
			id, err := ParseIdentifier(live.ContextURI)
			if err != nil || !id.IsContainer() {
				kind := live.ContextType
				if kind == "" {
					kind = uriKind(live.ContextURI)
				}
				return PrintTarget{}, fmt.Errorf("%w: %s", ErrUnsupportedContext, kind)
			}
			return PrintTarget{ID: id, Source: SourceLiveContext, Label: "current " + string(id.Kind)}, nil
		}

		if live.HasItem() {
			album, err := ParseIdentifier(live.AlbumURI)
			if err != nil || album.Kind != KindAlbum {
				return PrintTarget{}, ErrNoAlbumForTrack
			}
			return PrintTarget{ID: album, Source: SourceTrackAlbum, Label: "track's album (no context)"}, nil
		}
	}

	if remembered != nil && remembered.IsContainer() {
		return PrintTarget{ID: *remembered, Source: SourceRemembered, Label: "last played " + string(remembered.Kind)}, nil
	}
	return PrintTarget{}, ErrNothingToPrint
}

// currentPlayback returns the live snapshot only while something is actually playing.
// Errors are treated as "nothing live" so print-current can still use the remembered context.
func currentPlayback(ctx context.Context, svc ContentService) (*PlaybackSnapshot, error) {
	pb, err := svc.Playback(ctx)
	if err != nil {
		return nil, err
	}
	if !pb.Playing {
		return nil, nil
	}
	return &pb, nil
}

// printCurrent prints a sticker for what is playing now, following resolvePrintTarget.
func printCurrent(ctx context.Context, svc ContentService, printer StickerPrinter, remembered *Identifier) (PrintTarget, string, error) {
	if printer == nil {
		return PrintTarget{}, "", ErrPrinterDisabled
	}

	live, _ := currentPlayback(ctx, svc)
	target, err := resolvePrintTarget(live, remembered)
	if err != nil {
		return PrintTarget{}, "", err
	}

	title, err := printSticker(ctx, svc, printer, target.ID)
	return target, title, err
}
