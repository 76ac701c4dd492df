package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

// cliOptions are the flags shared by every subcommand that loads the config.
type cliOptions struct {
	configPath string
	display    bool
	noDisplay  bool
	verbose    bool
	debug      bool
	logLevel   string
	ipcSocket  string
	httpListen string
	camera     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "musicbutler",
		Short: "QR code music butler for Raspberry Pi",
		Long: "Watches a camera for QR codes holding Spotify playlist, album or track URIs.\n" +
			"In play mode a scan starts playback on the active Spotify Connect device;\n" +
			"in print mode it prints a QR sticker on a USB thermal printer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runButler(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: error, warn, info, debug (overrides config)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging, including cooldown reports")
	pf.BoolVar(&opts.debug, "debug", false, "verbose logging plus QR payload text in the preview")

	addRunFlags(root, opts)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the butler daemon (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runButler(cmd, opts)
		},
	}
	addRunFlags(runCmd, opts)

	root.AddCommand(
		runCmd,
		newAuthenticateCmd(opts),
		newQRCmd(),
		newPrintTestCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version and exit",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "musicbutler v%s\n", version)
			},
		},
	)
	return root
}

func addRunFlags(cmd *cobra.Command, opts *cliOptions) {
	f := cmd.Flags()
	f.BoolVarP(&opts.display, "display", "d", false, "enable the annotated camera preview")
	f.BoolVar(&opts.noDisplay, "no-display", false, "run headless (no preview)")
	f.StringVar(&opts.ipcSocket, "ipc-socket", "", "unix socket path for butler-ctl (overrides config)")
	f.StringVar(&opts.httpListen, "http-listen", "", "address for the status HTTP server (overrides config)")
	f.StringVar(&opts.camera, "camera", "", "V4L2 device, e.g. /dev/video0 (default: probe)")
	cmd.MarkFlagsMutuallyExclusive("display", "no-display")
}

// loadConfig reads the config file and applies the flags the user actually set.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (Config, *slog.Logger, error) {
	cfg, err := LoadConfigFile(opts.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil, fmt.Errorf("config file %s not found (copy config.example.yaml there and add your Spotify credentials): %w", opts.configPath, err)
		}
		return Config{}, nil, err
	}

	var ov FlagOverrides
	changed := cmd.Flags().Changed
	if changed("display") {
		v := true
		ov.Display = &v
	}
	if changed("no-display") {
		v := false
		ov.Display = &v
	}
	if changed("log-level") {
		ov.LogLevel = &opts.logLevel
	}
	if changed("ipc-socket") {
		ov.IPCSocketPath = &opts.ipcSocket
	}
	if changed("http-listen") {
		ov.HTTPListen = &opts.httpListen
	}
	if changed("camera") {
		ov.CameraDevice = &opts.camera
	}
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, nil, fmt.Errorf("invalid config %s: %w", opts.configPath, err)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(effectiveLogLevel(level, opts.verbose, opts.debug))
	return cfg, logger, nil
}

// ============================================================================
// run
// ============================================================================

func runButler(cmd *cobra.Command, opts *cliOptions) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	logger.Info("starting musicbutler", "version", version, "config", opts.configPath)

	// Spotify
	conf := oauthConfig(cfg.Spotify)
	cache := NewTokenCache(cfg.Spotify.TokenCache, logger.With("component", "tokencache"))
	tok, err := cache.Load()
	if errors.Is(err, ErrNoToken) {
		if !stdinIsTerminal() {
			return fmt.Errorf("%w at %s: run 'musicbutler authenticate' first", err, cache.Path())
		}
		logger.Info("no cached Spotify token, starting interactive login")
		tok, err = authenticate(ctx, conf, cache, os.Stdin, os.Stdout)
	}
	if err != nil {
		return err
	}
	client, tokenSource := newSpotifyClient(ctx, conf, tok, cache, logger.With("component", "oauth"))
	svc := NewSpotifyService(client, cfg.Spotify.RequestsPerSec, logger.With("component", "spotify"))

	whoCtx, cancel := context.WithTimeout(ctx, apiTimeout)
	user, err := svc.DisplayName(whoCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("spotify login failed (re-run 'musicbutler authenticate'): %w", err)
	}
	logger.Info("spotify authenticated", "user", user)

	// Printer: failure disables printing, never the daemon.
	var printer StickerPrinter
	if cfg.PrinterConfigured() {
		p, err := connectConfiguredPrinter(ctx, cfg.Printer, logger.With("component", "printer"))
		if err != nil {
			attrs := []any{"error", err}
			var perr *PrinterError
			if errors.As(err, &perr) {
				attrs = append(attrs, "hint", perr.Hint())
			}
			logger.Error("printer unavailable, print mode disabled", attrs...)
		} else {
			defer p.Close()
			printer = p
		}
	} else {
		logger.Info("printer not configured, print mode disabled")
	}

	// Camera
	cam, err := OpenCamera(cfg.Camera, logger.With("component", "camera"))
	if err != nil {
		return fmt.Errorf("%w (check the cable, or set camera.device)", err)
	}
	defer cam.Close()

	events := make(chan Event, defaultEventQueue)
	snapshots := &SnapshotStore{}

	// Encoder: optional hardware.
	var encoder *Encoder
	if cfg.Encoder.Enabled {
		dev, err := openSeesaw(cfg.Encoder.I2CBus, cfg.Encoder.Address, cfg.Encoder.ButtonPin)
		if err != nil {
			logger.Warn("rotary encoder unavailable", "error", err)
		} else {
			if id, err := dev.HardwareID(); err == nil {
				logger.Debug("seesaw detected", "hw_id", fmt.Sprintf("0x%02x", id))
			}
			encoder = NewEncoder(dev, events, cfg.Encoder, logger.With("component", "encoder"))
			defer encoder.Close()
		}
	}

	var preview *Preview
	if cfg.Display.Enabled {
		preview = NewPreview()
	}

	var broadcasts chan StateBroadcast
	var stateServer *StateServer
	if cfg.HTTP.Enabled {
		broadcasts = make(chan StateBroadcast, 64)
		stateServer = NewStateServer(logger.With("component", "ws"), events, HubConfig{})
	}

	state := NewButlerState(&cfg, printer != nil)
	deps := &EffectDeps{
		Service: svc,
		Printer: printer,
		Mixer:   AmixerVolume{Control: cfg.Volume.MixerControl, Card: cfg.Volume.MixerCard},
		Quit:    quit,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dopts := daemonOptions{UpdateHz: defaultUpdateHz, Broadcasts: broadcasts, Snapshots: snapshots}
		runDaemon(gctx, events, deps, cfg.ReducerConfig(), state, dopts, logger.With("component", "daemon"))
		return nil
	})

	loop := &scanLoop{
		src:       cam,
		decoder:   NewDecoder(),
		events:    events,
		preview:   preview,
		snapshots: snapshots,
		fps:       cfg.Display.FPS,
		debug:     opts.debug,
		logger:    logger.With("component", "scanner"),
	}
	g.Go(func() error { return loop.Run(gctx) })

	if encoder != nil {
		g.Go(func() error { return encoder.Run(gctx) })
	}

	if (cfg.Display.Enabled || cfg.Keyboard.Always) && len(cfg.Keyboard.Devices) > 0 {
		g.Go(func() error {
			err := runKeyboard(gctx, cfg.Keyboard.Devices, cfg.Volume.KeyStep, events, logger.With("component", "keyboard"))
			if err != nil {
				logger.Warn("keyboard controls stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger.With("component", "ipc"))
	})

	if cfg.HTTP.Enabled {
		g.Go(func() error {
			stateServer.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, stateServer.Hub(), broadcasts, logger.With("component", "ws"))
			return nil
		})
		handler := newRouter(httpDeps{Snapshots: snapshots, Preview: preview, State: stateServer})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, handler, logger.With("component", "http"))
		})
	}

	g.Go(func() error {
		err := cache.Watch(gctx, tokenSource.Reset)
		if err != nil {
			logger.Warn("token cache watcher stopped", "error", err)
		}
		return nil
	})

	logger.Info("ready",
		"mode", state.Mode.String(),
		"printer", printer != nil,
		"encoder", encoder != nil,
		"preview", preview != nil,
		"controls", "m=mode p=print-current space=play/pause +/-=volume q=quit",
	)

	err = g.Wait()
	if encoder != nil {
		if serr := encoder.Stop(); serr != nil {
			logger.Warn("encoder stop", "error", serr)
		}
	}
	if err != nil {
		return err
	}
	logger.Info("musicbutler stopped")
	return nil
}

func connectConfiguredPrinter(ctx context.Context, cfg PrinterConfig, logger *slog.Logger) (*Printer, error) {
	opener := newUSBOpener(uint16(cfg.VendorID), uint16(cfg.ProductID))
	p, err := ConnectPrinter(ctx, opener, uint16(cfg.VendorID), time.Duration(cfg.TimeoutMS)*time.Millisecond, logger)
	if err != nil {
		_ = opener.Close()
		return nil, fmt.Errorf("printer %s:%s: %w", cfg.VendorID, cfg.ProductID, err)
	}
	return p, nil
}

func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// ============================================================================
// authenticate
// ============================================================================

func newAuthenticateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "authenticate",
		Short: "Log in to Spotify and write the token cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateCredentials(); err != nil {
				return err
			}
			ctx := cmd.Context()
			conf := oauthConfig(cfg.Spotify)
			cache := NewTokenCache(cfg.Spotify.TokenCache, logger)

			tok, err := authenticate(ctx, conf, cache, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			client, _ := newSpotifyClient(ctx, conf, tok, cache, logger)
			name, err := NewSpotifyService(client, 0, logger).DisplayName(ctx)
			if err != nil {
				return fmt.Errorf("token saved but user lookup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nAuthenticated as %s; token saved to %s\n", name, cache.Path())
			return nil
		},
	}
}

// ============================================================================
// qr
// ============================================================================

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func newQRCmd() *cobra.Command {
	var outDir string
	var size int
	cmd := &cobra.Command{
		Use:   "qr NAME=URI|URL ...",
		Short: "Write QR code PNGs for Spotify URIs or open.spotify.com links",
		Example: "  musicbutler qr jazz=spotify:playlist:37i9dQZF1DXbITWG1ZJKYt\n" +
			"  musicbutler qr --out stickers kindofblue=https://open.spotify.com/album/1weenld61qoidwYuZ1GESA",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			for _, arg := range args {
				path, id, err := writeQRCode(outDir, arg, size)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", id, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	cmd.Flags().IntVar(&size, "size", 512, "image size in pixels")
	return cmd
}

// writeQRCode parses NAME=URI|URL and writes NAME.png into dir.
func writeQRCode(dir, arg string, size int) (string, Identifier, error) {
	name, target, ok := strings.Cut(arg, "=")
	if !ok || name == "" || target == "" {
		return "", Identifier{}, fmt.Errorf("argument %q: expected NAME=URI or NAME=URL", arg)
	}

	var id Identifier
	var err error
	if looksLikeURL(target) {
		id, err = IdentifierFromURL(target)
	} else {
		id, err = ParseIdentifier(target)
	}
	if err != nil {
		return "", Identifier{}, fmt.Errorf("argument %q: %w", arg, err)
	}

	path := filepath.Join(dir, unsafeFileChars.ReplaceAllString(name, "_")+".png")
	if err := qrcode.WriteFile(id.String(), qrcode.Medium, size, path); err != nil {
		return "", Identifier{}, fmt.Errorf("write %s: %w", path, err)
	}
	return path, id, nil
}

// ============================================================================
// print-test
// ============================================================================

const printTestURI = "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M"

func newPrintTestCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "print-test [URI]",
		Short: "Print one test sticker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if !cfg.PrinterConfigured() {
				return errors.New("printer is disabled or printer.vendor_id/product_id are not set")
			}

			uri := printTestURI
			if len(args) == 1 {
				id, err := ParseIdentifier(args[0])
				if err != nil {
					return err
				}
				uri = id.String()
			}

			p, err := connectConfiguredPrinter(cmd.Context(), cfg.Printer, logger)
			if err != nil {
				var perr *PrinterError
				if errors.As(err, &perr) {
					return fmt.Errorf("%w\nhint: %s", err, perr.Hint())
				}
				return err
			}
			defer p.Close()

			if err := p.PrintSticker(cmd.Context(), uri, "Test Sticker", "musicbutler v"+version); err != nil {
				return fmt.Errorf("print test sticker: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "test sticker printed")
			return nil
		},
	}
}
