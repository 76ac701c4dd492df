package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeService is a test double for ContentService.
type fakeService struct {
	mu sync.Mutex

	devices     []Device
	deviceErr   error
	info        map[Identifier]ContentInfo
	infoErr     error
	playback    PlaybackSnapshot
	playbackErr error
	playErr     error

	calls []string
	plays []Identifier
}

func newFakeService() *fakeService {
	return &fakeService{
		devices: []Device{{ID: "dev1", Name: "Living Room", Active: true}},
		info:    map[Identifier]ContentInfo{},
	}
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeService) ActiveDevice(ctx context.Context) (Device, error) {
	f.record("ActiveDevice")
	if f.deviceErr != nil {
		return Device{}, f.deviceErr
	}
	if len(f.devices) == 0 {
		return Device{}, ErrNoActiveDevice
	}
	return f.devices[0], nil
}

func (f *fakeService) ContentInfo(ctx context.Context, id Identifier) (ContentInfo, error) {
	f.record("ContentInfo")
	if f.infoErr != nil {
		return ContentInfo{}, f.infoErr
	}
	return f.info[id], nil
}

func (f *fakeService) Play(ctx context.Context, deviceID string, id Identifier) error {
	f.record("Play")
	if f.playErr != nil {
		return f.playErr
	}
	f.mu.Lock()
	f.plays = append(f.plays, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeService) Pause(ctx context.Context, deviceID string) error {
	f.record("Pause")
	return nil
}

func (f *fakeService) Resume(ctx context.Context, deviceID string) error {
	f.record("Resume")
	return nil
}

func (f *fakeService) Playback(ctx context.Context) (PlaybackSnapshot, error) {
	f.record("Playback")
	return f.playback, f.playbackErr
}

type printedSticker struct {
	URI, Title, Subtitle string
}

// fakePrinter records stickers instead of printing them.
type fakePrinter struct {
	err     error
	printed []printedSticker
}

func (p *fakePrinter) PrintSticker(ctx context.Context, uri, title, subtitle string) error {
	if p.err != nil {
		return p.err
	}
	p.printed = append(p.printed, printedSticker{URI: uri, Title: title, Subtitle: subtitle})
	return nil
}

func TestPlayContent_NoDeviceDoesNotPlay(t *testing.T) {
	svc := newFakeService()
	svc.devices = nil

	_, err := playContent(context.Background(), svc, Identifier{Kind: KindAlbum, ID: "a"})
	if !errors.Is(err, ErrNoActiveDevice) {
		t.Fatalf("err = %v, want ErrNoActiveDevice", err)
	}
	if len(svc.plays) != 0 {
		t.Fatalf("Play must not be called without a device, got %v", svc.plays)
	}
}

func TestTogglePlayback(t *testing.T) {
	remembered := &Identifier{Kind: KindPlaylist, ID: "p1"}

	tests := []struct {
		name        string
		playback    PlaybackSnapshot
		remembered  *Identifier
		wantPlaying bool
		wantErr     error
		wantCall    string
	}{
		{
			name:        "playing pauses",
			playback:    PlaybackSnapshot{Playing: true, TrackURI: "spotify:track:t"},
			wantPlaying: false,
			wantCall:    "Pause",
		},
		{
			name:        "paused with item resumes",
			playback:    PlaybackSnapshot{TrackURI: "spotify:track:t"},
			wantPlaying: true,
			wantCall:    "Resume",
		},
		{
			name:        "empty starts remembered",
			remembered:  remembered,
			wantPlaying: true,
			wantCall:    "Play",
		},
		{
			name:    "empty without remembered fails",
			wantErr: ErrNothingToPlay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.playback = tt.playback

			playing, err := togglePlayback(context.Background(), svc, tt.remembered)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if playing != tt.wantPlaying {
				t.Errorf("playing = %v, want %v", playing, tt.wantPlaying)
			}
			last := svc.calls[len(svc.calls)-1]
			if last != tt.wantCall {
				t.Errorf("last call = %s, want %s (calls %v)", last, tt.wantCall, svc.calls)
			}
			if tt.wantCall == "Play" {
				if diff := cmp.Diff([]Identifier{*tt.remembered}, svc.plays); diff != "" {
					t.Errorf("plays mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestStickerLabels(t *testing.T) {
	lookupErr := errors.New("503")
	tests := []struct {
		name         string
		id           Identifier
		info         ContentInfo
		err          error
		wantTitle    string
		wantSubtitle string
	}{
		{
			name:         "playlist",
			id:           Identifier{Kind: KindPlaylist, ID: "p"},
			info:         ContentInfo{Kind: KindPlaylist, Name: "Jazz Classics", Owner: "spotify"},
			wantTitle:    "Jazz Classics",
			wantSubtitle: "(Playlist)",
		},
		{
			name:         "album",
			id:           Identifier{Kind: KindAlbum, ID: "a"},
			info:         ContentInfo{Kind: KindAlbum, Name: "Kind of Blue", Artist: "Miles Davis"},
			wantTitle:    "Kind of Blue",
			wantSubtitle: "Miles Davis",
		},
		{
			name:      "playlist lookup failed",
			id:        Identifier{Kind: KindPlaylist, ID: "p"},
			err:       lookupErr,
			wantTitle: "Playlist",
		},
		{
			name:      "album lookup failed",
			id:        Identifier{Kind: KindAlbum, ID: "a"},
			err:       lookupErr,
			wantTitle: "Unknown",
		},
		{
			name:         "track",
			id:           Identifier{Kind: KindTrack, ID: "t"},
			info:         ContentInfo{Kind: KindTrack, Name: "So What", Artist: "Miles Davis"},
			wantTitle:    "So What",
			wantSubtitle: "Miles Davis",
		},
		{
			name:      "track lookup failed",
			id:        Identifier{Kind: KindTrack, ID: "t"},
			err:       lookupErr,
			wantTitle: "Unknown",
		},
		{
			name:      "track without a name",
			id:        Identifier{Kind: KindTrack, ID: "t"},
			info:      ContentInfo{Kind: KindTrack},
			wantTitle: "Unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, subtitle := StickerLabels(tt.id, tt.info, tt.err)
			if title != tt.wantTitle || subtitle != tt.wantSubtitle {
				t.Errorf("got (%q, %q), want (%q, %q)", title, subtitle, tt.wantTitle, tt.wantSubtitle)
			}
		})
	}
}

func TestPrintSticker_LookupFailureStillPrints(t *testing.T) {
	svc := newFakeService()
	svc.infoErr = errors.New("timeout")
	pr := &fakePrinter{}
	id := Identifier{Kind: KindPlaylist, ID: "37i9dQZF1DX4WYpdgoIcn6"}

	if _, err := printSticker(context.Background(), svc, pr, id); err != nil {
		t.Fatalf("printSticker: %v", err)
	}
	want := []printedSticker{{URI: "spotify:playlist:37i9dQZF1DX4WYpdgoIcn6", Title: "Playlist"}}
	if diff := cmp.Diff(want, pr.printed); diff != "" {
		t.Fatalf("printed mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintSticker_Track(t *testing.T) {
	id := Identifier{Kind: KindTrack, ID: "4uLU6hMCjMI75M1A2tKUQC"}
	tests := []struct {
		name    string
		info    ContentInfo
		infoErr error
		want    printedSticker
	}{
		{
			name: "artist as subtitle",
			info: ContentInfo{Kind: KindTrack, Name: "Never Gonna Give You Up", Artist: "Rick Astley"},
			want: printedSticker{URI: id.String(), Title: "Never Gonna Give You Up", Subtitle: "Rick Astley"},
		},
		{
			name:    "lookup failure",
			infoErr: errors.New("timeout"),
			want:    printedSticker{URI: id.String(), Title: "Unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.info[id] = tt.info
			svc.infoErr = tt.infoErr
			pr := &fakePrinter{}

			if _, err := printSticker(context.Background(), svc, pr, id); err != nil {
				t.Fatalf("printSticker: %v", err)
			}
			if diff := cmp.Diff([]printedSticker{tt.want}, pr.printed); diff != "" {
				t.Fatalf("printed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolvePrintTarget(t *testing.T) {
	album := Identifier{Kind: KindAlbum, ID: "al"}
	playlist := Identifier{Kind: KindPlaylist, ID: "pl"}
	track := Identifier{Kind: KindTrack, ID: "tr"}

	tests := []struct {
		name       string
		live       *PlaybackSnapshot
		remembered *Identifier
		want       PrintTarget
		wantErr    error
	}{
		{
			name:       "live playlist context wins over remembered",
			live:       &PlaybackSnapshot{Playing: true, ContextURI: playlist.String(), TrackURI: "spotify:track:x", AlbumURI: album.String()},
			remembered: &album,
			want:       PrintTarget{ID: playlist, Source: SourceLiveContext, Label: "current playlist"},
		},
		{
			name: "live track without context prints its album",
			live: &PlaybackSnapshot{Playing: true, TrackURI: "spotify:track:x", AlbumURI: album.String()},
			want: PrintTarget{ID: album, Source: SourceTrackAlbum, Label: "track's album (no context)"},
		},
		{
			name:       "artist context is rejected without fallback",
			live:       &PlaybackSnapshot{Playing: true, ContextURI: "spotify:artist:0OdUWJ0sBjDrqHygGUXeCF", TrackURI: "spotify:track:x"},
			remembered: &playlist,
			wantErr:    ErrUnsupportedContext,
		},
		{
			name:    "live track without album",
			live:    &PlaybackSnapshot{Playing: true, TrackURI: "spotify:track:x"},
			wantErr: ErrNoAlbumForTrack,
		},
		{
			name:       "nothing live uses remembered container",
			remembered: &album,
			want:       PrintTarget{ID: album, Source: SourceRemembered, Label: "last played album"},
		},
		{
			name:       "remembered track is not printable",
			remembered: &track,
			wantErr:    ErrNothingToPrint,
		},
		{
			name:    "nothing at all",
			wantErr: ErrNothingToPrint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePrintTarget(tt.live, tt.remembered)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("target mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrintCurrent_PausedPlaybackFallsBackToRemembered(t *testing.T) {
	svc := newFakeService()
	// Paused: the live context is ignored.
	svc.playback = PlaybackSnapshot{Playing: false, ContextURI: "spotify:playlist:live", TrackURI: "spotify:track:x"}
	svc.info[Identifier{Kind: KindAlbum, ID: "mem"}] = ContentInfo{Kind: KindAlbum, Name: "Remembered", Artist: "Someone"}
	pr := &fakePrinter{}
	remembered := &Identifier{Kind: KindAlbum, ID: "mem"}

	target, title, err := printCurrent(context.Background(), svc, pr, remembered)
	if err != nil {
		t.Fatalf("printCurrent: %v", err)
	}
	if target.Source != SourceRemembered || title != "Remembered" {
		t.Fatalf("target = %+v title = %q", target, title)
	}
	want := []printedSticker{{URI: "spotify:album:mem", Title: "Remembered", Subtitle: "Someone"}}
	if diff := cmp.Diff(want, pr.printed); diff != "" {
		t.Errorf("printed mismatch (-want +got):\n%s", diff)
	}
}

func TestPrintCurrent_PrinterDisabled(t *testing.T) {
	_, _, err := printCurrent(context.Background(), newFakeService(), nil, nil)
	if !errors.Is(err, ErrPrinterDisabled) {
		t.Fatalf("err = %v, want ErrPrinterDisabled", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunEffect_PlayEmitsObservation(t *testing.T) {
	svc := newFakeService()
	deps := &EffectDeps{Service: svc}
	id := Identifier{Kind: KindAlbum, ID: "a"}

	var got []Event
	runEffect(context.Background(), deps, CmdPlay{ID: id}, discardLogger(), func(ev Event) { got = append(got, ev) })

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	started, ok := got[0].(PlaybackStarted)
	if !ok || started.ID != id {
		t.Fatalf("expected PlaybackStarted(%v), got %#v", id, got[0])
	}
}

func TestRunEffect_PlayFailureIsReported(t *testing.T) {
	svc := newFakeService()
	svc.devices = nil
	deps := &EffectDeps{Service: svc}

	var got []Event
	runEffect(context.Background(), deps, CmdPlay{ID: Identifier{Kind: KindAlbum, ID: "a"}}, discardLogger(), func(ev Event) { got = append(got, ev) })

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	failed, ok := got[0].(ActionFailed)
	if !ok || !errors.Is(failed.Err, ErrNoActiveDevice) {
		t.Fatalf("expected ActionFailed(ErrNoActiveDevice), got %#v", got[0])
	}
	if hint := remediationHint(failed.Err); hint == "" {
		t.Error("no active device should carry a remediation hint")
	}
}

type fakeMixer struct {
	set []int
	err error
}

func (m *fakeMixer) SetVolume(ctx context.Context, percent int) error {
	m.set = append(m.set, percent)
	return m.err
}

func TestRunEffect_SetVolumeFailureIsSilent(t *testing.T) {
	mixer := &fakeMixer{err: errors.New("amixer: not found")}
	deps := &EffectDeps{Service: newFakeService(), Mixer: mixer}

	var got []Event
	runEffect(context.Background(), deps, CmdSetVolume{Percent: 42}, discardLogger(), func(ev Event) { got = append(got, ev) })

	if diff := cmp.Diff([]int{42}, mixer.set); diff != "" {
		t.Fatalf("mixer calls (-want +got):\n%s", diff)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if applied, ok := got[0].(VolumeApplied); !ok || applied.Percent != 42 {
		t.Fatalf("expected VolumeApplied(42), got %#v", got[0])
	}
}

func TestRunEffect_QuitCallsQuit(t *testing.T) {
	called := false
	deps := &EffectDeps{Quit: func() { called = true }}

	runEffect(context.Background(), deps, CmdQuit{}, discardLogger(), func(Event) {})
	if !called {
		t.Fatal("Quit was not called")
	}
}

func TestRunEffect_SnapshotReplyNeverBlocks(t *testing.T) {
	deps := &EffectDeps{}
	reply := make(chan StateSnapshot) // unbuffered, nobody reading

	done := make(chan struct{})
	go func() {
		defer close(done)
		runEffect(context.Background(), deps, CmdPublishStateSnapshot{Reply: reply}, discardLogger(), func(Event) {})
	}()
	<-done
}
