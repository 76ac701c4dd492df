package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the musicbutler daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. The struct is built once at start-up and passed
// explicitly to every component constructor.
type Config struct {
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Printer  PrinterConfig  `yaml:"printer"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Camera   CameraConfig   `yaml:"camera"`
	Volume   VolumeConfig   `yaml:"volume"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Keyboard KeyboardConfig `yaml:"keyboard"`
	Display  DisplayConfig  `yaml:"display"`
	IPC      IPCConfig      `yaml:"ipc"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	TokenCache   string `yaml:"token_cache"`

	// RequestsPerSec throttles Web API calls; 0 disables throttling.
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

type PrinterConfig struct {
	Enabled   bool  `yaml:"enabled"`
	VendorID  HexID `yaml:"vendor_id"`
	ProductID HexID `yaml:"product_id"`
	TimeoutMS int   `yaml:"timeout_ms"`
}

type ScannerConfig struct {
	CooldownSec float64 `yaml:"cooldown_sec"`
}

// Cooldown returns the scan cooldown as a duration.
func (s ScannerConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownSec * float64(time.Second))
}

type CameraConfig struct {
	// Device is a V4L2 device path; empty means probe /dev/video*.
	Device        string `yaml:"device,omitempty"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

type VolumeConfig struct {
	Default      int    `yaml:"default"`
	KeyStep      int    `yaml:"key_step"`
	EncoderStep  int    `yaml:"encoder_step"`
	MixerControl string `yaml:"mixer_control"`
	MixerCard    string `yaml:"mixer_card,omitempty"`
}

type EncoderConfig struct {
	Enabled        bool `yaml:"enabled"`
	I2CBus         int  `yaml:"i2c_bus"`
	Address        int  `yaml:"address"`
	ButtonPin      int  `yaml:"button_pin"`
	DoublePressMS  int  `yaml:"double_press_ms"`
	PollMS         int  `yaml:"poll_ms"`
	InvertRotation bool `yaml:"invert_rotation"`
}

type KeyboardConfig struct {
	Devices []string `yaml:"devices,omitempty"`

	// Always reads the keyboard even when the preview is off.
	Always bool `yaml:"always,omitempty"`
}

type DisplayConfig struct {
	// Enabled turns on the annotated preview stream; --display/--no-display override it.
	Enabled bool `yaml:"enabled"`
	FPS     int  `yaml:"fps"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HexID is a USB vendor/product id. YAML may give it as an int (1046, 0x0416)
// or as a hex string ("0x0416", "0416").
type HexID uint16

func (h *HexID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: usb id must be a scalar", node.Line)
	}
	if node.Tag == "!!int" {
		var v int
		if err := node.Decode(&v); err != nil {
			return err
		}
		if v < 0 || v > 0xffff {
			return fmt.Errorf("line %d: usb id %d out of range", node.Line, v)
		}
		*h = HexID(v)
		return nil
	}
	v, err := ParseHexID(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*h = v
	return nil
}

// ParseHexID parses a hex string with or without 0x prefix.
func ParseHexID(s string) (HexID, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, errors.New("empty usb id")
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q: %w", s, err)
	}
	return HexID(v), nil
}

func (h HexID) String() string { return fmt.Sprintf("0x%04x", uint16(h)) }

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Spotify: SpotifyConfig{
			RedirectURI:    defaultRedirectURI,
			TokenCache:     defaultTokenCache,
			RequestsPerSec: 5,
		},
		Printer: PrinterConfig{
			Enabled:   true,
			TimeoutMS: 5000,
		},
		Scanner: ScannerConfig{
			CooldownSec: defaultScanCooldownSec,
		},
		Camera: CameraConfig{
			Width:         defaultCameraWidth,
			Height:        defaultCameraHeight,
			ReadTimeoutMS: 1000,
		},
		Volume: VolumeConfig{
			Default:      defaultVolume,
			KeyStep:      defaultKeyVolumeStep,
			EncoderStep:  defaultEncoderStep,
			MixerControl: "Master",
		},
		Encoder: EncoderConfig{
			Enabled:        true,
			I2CBus:         defaultEncoderI2CBus,
			Address:        defaultEncoderAddress,
			ButtonPin:      defaultEncoderButton,
			DoublePressMS:  defaultDoublePressMS,
			PollMS:         defaultEncoderPollMS,
			InvertRotation: true,
		},
		Display: DisplayConfig{
			Enabled: false,
			FPS:     10,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  defaultHTTPListen,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides are CLI overrides applied on top of the config file.
// Each pointer is only applied when non-nil.
type FlagOverrides struct {
	Display       *bool
	LogLevel      *string
	IPCSocketPath *string
	HTTPListen    *string
	CameraDevice  *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Display != nil {
		cfg.Display.Enabled = *o.Display
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.CameraDevice != nil {
		cfg.Camera.Device = *o.CameraDevice
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Credentials are checked separately by ValidateCredentials so subcommands
// that never talk to the service can run without them.
func (c *Config) Validate() error {
	if c.Spotify.RedirectURI == "" {
		return errors.New("spotify.redirect_uri must not be empty")
	}
	if c.Spotify.TokenCache == "" {
		return errors.New("spotify.token_cache must not be empty")
	}
	if c.Spotify.RequestsPerSec < 0 {
		return errors.New("spotify.requests_per_sec must be >= 0")
	}

	if c.Printer.TimeoutMS <= 0 {
		return errors.New("printer.timeout_ms must be > 0")
	}

	if c.Scanner.CooldownSec < 0 {
		return errors.New("scanner.cooldown_sec must be >= 0")
	}

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return errors.New("camera.width and camera.height must be > 0")
	}
	if c.Camera.ReadTimeoutMS <= 0 {
		return errors.New("camera.read_timeout_ms must be > 0")
	}

	if c.Volume.Default < 0 || c.Volume.Default > 100 {
		return errors.New("volume.default must be between 0 and 100")
	}
	if c.Volume.KeyStep <= 0 || c.Volume.KeyStep > 100 {
		return errors.New("volume.key_step must be between 1 and 100")
	}
	if c.Volume.EncoderStep <= 0 || c.Volume.EncoderStep > 100 {
		return errors.New("volume.encoder_step must be between 1 and 100")
	}
	if c.Volume.MixerControl == "" {
		return errors.New("volume.mixer_control must not be empty")
	}

	if c.Encoder.Enabled {
		if c.Encoder.I2CBus < 0 {
			return errors.New("encoder.i2c_bus must be >= 0")
		}
		if c.Encoder.Address <= 0 || c.Encoder.Address > 0x7f {
			return errors.New("encoder.address must be a 7-bit i2c address")
		}
		if c.Encoder.ButtonPin < 0 || c.Encoder.ButtonPin > 63 {
			return errors.New("encoder.button_pin must be between 0 and 63")
		}
		if c.Encoder.DoublePressMS <= 0 {
			return errors.New("encoder.double_press_ms must be > 0")
		}
		if c.Encoder.PollMS <= 0 {
			return errors.New("encoder.poll_ms must be > 0")
		}
	}

	for i, dev := range c.Keyboard.Devices {
		if dev == "" {
			return fmt.Errorf("keyboard.devices[%d] is empty", i)
		}
	}

	if c.Display.FPS <= 0 || c.Display.FPS > 60 {
		return errors.New("display.fps must be between 1 and 60")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http.enabled is true but http.listen is empty")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ErrMissingCredentials is returned when the OAuth client is not configured.
var ErrMissingCredentials = errors.New("spotify credentials not configured")

// ValidateCredentials rejects empty or placeholder client credentials.
func (c *Config) ValidateCredentials() error {
	id, secret := c.Spotify.ClientID, c.Spotify.ClientSecret
	if id == "" || id == placeholderClientID {
		return fmt.Errorf("%w: set spotify.client_id (https://developer.spotify.com/dashboard)", ErrMissingCredentials)
	}
	if secret == "" || secret == placeholderClientSecret {
		return fmt.Errorf("%w: set spotify.client_secret", ErrMissingCredentials)
	}
	return nil
}

// PrinterConfigured reports whether printing should be attempted at all.
func (c *Config) PrinterConfigured() bool {
	return c.Printer.Enabled && c.Printer.VendorID != 0 && c.Printer.ProductID != 0
}

// ReducerConfig returns the reducer policy derived from the config.
func (c *Config) ReducerConfig() ReducerConfig {
	return ReducerConfig{
		EncoderVolumeStep: c.Volume.EncoderStep,
		InvertRotation:    c.Encoder.InvertRotation,
		MinVolume:         0,
		MaxVolume:         100,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
