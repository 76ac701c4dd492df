package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_MINUS   = 12
	KEY_EQUAL   = 13
	KEY_Q       = 16
	KEY_P       = 25
	KEY_M       = 50
	KEY_SPACE   = 57
	KEY_KPMINUS = 74
	KEY_KPPLUS  = 78

	KEY_VOLUMEDOWN = 114
	KEY_VOLUMEUP   = 115
	KEY_PLAYPAUSE  = 164
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Defaults
const (
	defaultUpdateHz = 10 // daemon tick rate; flushes volume intents

	defaultScanCooldownSec = 3.0
	defaultVolume          = 70
	defaultKeyVolumeStep   = 5
	defaultEncoderStep     = 2

	defaultCameraWidth  = 640
	defaultCameraHeight = 480

	defaultDoublePressMS  = 500
	defaultEncoderPollMS  = 10
	defaultEncoderErrorMS = 100

	defaultEncoderI2CBus  = 1
	defaultEncoderAddress = 0x36
	defaultEncoderButton  = 24

	defaultEventQueue = 64

	defaultIPCSocket  = "/tmp/musicbutler.sock"
	defaultHTTPListen = "127.0.0.1:8080"

	previewRequestLimit = 120 // per client IP per minute

	defaultRedirectURI = "http://127.0.0.1:8888/callback"
	defaultTokenCache  = "~/.config/musicbutler/spotify_token.json"
	defaultConfigPath  = "~/.config/musicbutler/config.yaml"

	// Values shipped in the example config; treated as missing credentials.
	placeholderClientID     = "YOUR_CLIENT_ID_HERE"
	placeholderClientSecret = "YOUR_CLIENT_SECRET_HERE"
)
