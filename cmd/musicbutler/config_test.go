package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseConfig_DefaultsFillGaps(t *testing.T) {
	cfg, err := parseConfig([]byte(`
spotify:
  client_id: abc
  client_secret: def
printer:
  vendor_id: 0x0416
  product_id: "5011"
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Printer.VendorID != 0x0416 || cfg.Printer.ProductID != 0x5011 {
		t.Errorf("usb ids = %s:%s, want 0x0416:0x5011", cfg.Printer.VendorID, cfg.Printer.ProductID)
	}
	if !cfg.PrinterConfigured() {
		t.Error("printer with ids should be configured")
	}

	def := DefaultConfig()
	if diff := cmp.Diff(def.Scanner, cfg.Scanner); diff != "" {
		t.Errorf("scanner defaults changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(def.Encoder, cfg.Encoder); diff != "" {
		t.Errorf("encoder defaults changed (-want +got):\n%s", diff)
	}
}

func TestParseConfig_RejectsUnknownFields(t *testing.T) {
	_, err := parseConfig([]byte("scanner:\n  cooldwn_sec: 5\n"))
	if err == nil {
		t.Fatal("expected an error for a misspelled key")
	}
}

func TestParseConfig_RejectsTrailingDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"second config document", "logging:\n  level: info\n---\nlogging:\n  level: debug\n"},
		{"second document with unknown keys", "logging:\n  level: info\n---\nfoo: bar\n"},
		{"trailing scalar document", "logging:\n  level: info\n---\nhello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), "unexpected trailing document") {
				t.Fatalf("err = %v, want unexpected trailing document", err)
			}
		})
	}
}

func TestParseConfig_TrailingCommentsAccepted(t *testing.T) {
	cfg, err := parseConfig([]byte("logging:\n  level: debug\n# end of file\n\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "negative cooldown", mutate: func(c *Config) { c.Scanner.CooldownSec = -1 }, wantErr: "cooldown_sec"},
		{name: "volume over 100", mutate: func(c *Config) { c.Volume.Default = 101 }, wantErr: "volume.default"},
		{name: "zero key step", mutate: func(c *Config) { c.Volume.KeyStep = 0 }, wantErr: "key_step"},
		{name: "bad i2c address", mutate: func(c *Config) { c.Encoder.Address = 0x80 }, wantErr: "encoder.address"},
		{name: "disabled encoder skips checks", mutate: func(c *Config) { c.Encoder.Enabled = false; c.Encoder.Address = 0x80 }},
		{name: "fps out of range", mutate: func(c *Config) { c.Display.FPS = 0 }, wantErr: "display.fps"},
		{name: "empty keyboard device", mutate: func(c *Config) { c.Keyboard.Devices = []string{""} }, wantErr: "keyboard.devices[0]"},
		{name: "http without listen", mutate: func(c *Config) { c.HTTP.Listen = "" }, wantErr: "http.listen"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "chatty" }, wantErr: "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		id, secret string
		ok         bool
	}{
		{"", "", false},
		{placeholderClientID, "real", false},
		{"real", placeholderClientSecret, false},
		{"real", "", false},
		{"real", "secret", true},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Spotify.ClientID, cfg.Spotify.ClientSecret = tt.id, tt.secret
		err := cfg.ValidateCredentials()
		if tt.ok != (err == nil) {
			t.Errorf("ValidateCredentials(%q, %q) = %v, want ok=%v", tt.id, tt.secret, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("error %v does not wrap ErrMissingCredentials", err)
		}
	}
}

func TestFlagOverrides(t *testing.T) {
	cfg := DefaultConfig()
	display := true
	level := "debug"
	sock := "/run/mb.sock"

	FlagOverrides{Display: &display, LogLevel: &level, IPCSocketPath: &sock}.Apply(&cfg)

	if !cfg.Display.Enabled || cfg.Logging.Level != "debug" || cfg.IPC.SocketPath != sock {
		t.Fatalf("overrides not applied: display=%v level=%q sock=%q", cfg.Display.Enabled, cfg.Logging.Level, cfg.IPC.SocketPath)
	}
	if cfg.HTTP.Listen != defaultHTTPListen {
		t.Errorf("nil override changed http.listen to %q", cfg.HTTP.Listen)
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestParseHexID(t *testing.T) {
	tests := []struct {
		in      string
		want    HexID
		wantErr bool
	}{
		{in: "0x0416", want: 0x0416},
		{in: "4C4A", want: 0x4c4a},
		{in: "", wantErr: true},
		{in: "0x10000", wantErr: true},
		{in: "zz", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseHexID(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseHexID(%q) = (%v, %v), want (%v, err=%v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestEffectiveLogLevel(t *testing.T) {
	if got := effectiveLogLevel(LogLevelWarn, false, false); got != LogLevelWarn {
		t.Errorf("no flags: got %q", got)
	}
	if got := effectiveLogLevel(LogLevelWarn, true, false); got != LogLevelDebug {
		t.Errorf("--verbose: got %q", got)
	}
	if got := effectiveLogLevel(LogLevelError, false, true); got != LogLevelDebug {
		t.Errorf("--debug: got %q", got)
	}
}
