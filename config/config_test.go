package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeAppliesDefaultsWhenMapEmpty(t *testing.T) {
	cfg, err := Decode(map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestDecodeOverridesDefaults(t *testing.T) {
	cfg, err := Decode(map[string]interface{}{
		"webrtc_listen_port": 9001,
		"stun_server":        "stun.example.com:3478",
		"wfb_bind_phrase":    "correct horse battery staple",
		"fec_queue_size":     32,
		"log_level":          "debug",
	})
	require.NoError(t, err)
	require.Equal(t, 9001, cfg.WebRTCListenPort)
	require.Equal(t, "stun.example.com:3478", cfg.STUNServer)
	require.Equal(t, "correct horse battery staple", cfg.WFBBindPhrase)
	require.Equal(t, 32, cfg.FECQueueSize)
	require.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep their defaults.
	require.Equal(t, 5004, cfg.RTPListenPort)
}

func TestDecodeWeaklyTypedInput(t *testing.T) {
	cfg, err := Decode(map[string]interface{}{
		"webrtc_listen_port": "9001", // string, not int
	})
	require.NoError(t, err)
	require.Equal(t, 9001, cfg.WebRTCListenPort)
}
