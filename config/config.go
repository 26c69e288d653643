// Package config decodes a bootstrap configuration for an aloharx process
// from a loosely-typed map (as an external caller might parse from YAML or
// environment variables) into a strongly-typed Config.
package config

import (
	"github.com/mitchellh/mapstructure"
)

// Config is the bootstrap configuration a caller supplies before creating
// peer connections and WFB links. Loading it from a file, flags, or a DI
// container is out of scope; Decode only covers the map-to-struct step.
type Config struct {
	// WebRTCListenPort is the UDP port peer connections gather host
	// candidates on.
	WebRTCListenPort int `mapstructure:"webrtc_listen_port"`

	// RTPListenPort is the UDP port the local H.264 RTP source is read
	// from.
	RTPListenPort int `mapstructure:"rtp_listen_port"`

	// STUNServer is an optional STUN server address. It is decoded but not
	// used: ICE gathers host candidates only.
	STUNServer string `mapstructure:"stun_server"`

	// WFBBindPhrase seeds the long-term WFB keypair (see
	// internal/wfb.DeriveLongTermKeypair).
	WFBBindPhrase string `mapstructure:"wfb_bind_phrase"`

	// FECQueueSize bounds the number of in-flight FEC blocks
	// (RX_QUEUE_MAX_SIZE).
	FECQueueSize int `mapstructure:"fec_queue_size"`

	// LogLevel is a zerolog level name ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`
}

// Defaults returns a Config with the values this module falls back to when
// a field is absent from the decoded map.
func Defaults() Config {
	return Config{
		WebRTCListenPort: 8000,
		RTPListenPort:    5004,
		FECQueueSize:     64,
		LogLevel:         "info",
	}
}

// Decode populates a Config from a loosely-typed map, starting from
// Defaults() so a caller only needs to supply the fields it wants to
// override.
func Decode(raw map[string]interface{}) (Config, error) {
	cfg := Defaults()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
