package sdp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// H264FormatParameters models the fmtp parameters this module's rtpmap
// advertises for its H.264 payload type.
type H264FormatParameters struct {
	LevelAsymmetryAllowed bool
	PacketizationMode     int
	ProfileLevelID        int
	SpropParameterSets    [][]byte
}

var errMalformedFormatParameters = errors.New("sdp: malformed fmtp parameters")

// Marshal renders the fmtp value (everything after "a=fmtp:<pt> ").
func (fmtp *H264FormatParameters) Marshal() string {
	format := []string{
		fmt.Sprintf("profile-level-id=%06x", fmtp.ProfileLevelID),
	}
	if fmtp.LevelAsymmetryAllowed {
		format = append(format, "level-asymmetry-allowed=1")
	}
	if fmtp.PacketizationMode > 0 {
		format = append(format, fmt.Sprintf("packetization-mode=%d", fmtp.PacketizationMode))
	}
	if len(fmtp.SpropParameterSets) > 0 {
		var encoded []string
		for _, ps := range fmtp.SpropParameterSets {
			encoded = append(encoded, base64.StdEncoding.EncodeToString(ps))
		}
		format = append(format, fmt.Sprintf("sprop-parameter-sets=%s", strings.Join(encoded, ",")))
	}
	return strings.Join(format, ";")
}

// Unmarshal parses an fmtp value. Per this module's attribute-robustness
// policy the caller decides what to do with the error -- it is not wired
// into ParseSession's per-line skip logic: ParseSession keeps fmtp lines as
// plain attributes and does not parse their values.
func (fmtp *H264FormatParameters) Unmarshal(format string) error {
	for _, param := range strings.Split(format, ";") {
		pieces := strings.SplitN(param, "=", 2)
		if len(pieces) < 2 {
			return errMalformedFormatParameters
		}
		switch pieces[0] {
		case "level-asymmetry-allowed":
			switch pieces[1] {
			case "0":
				fmtp.LevelAsymmetryAllowed = false
			case "1":
				fmtp.LevelAsymmetryAllowed = true
			default:
				return errMalformedFormatParameters
			}
		case "packetization-mode":
			switch pieces[1] {
			case "0", "1", "2":
				fmt.Sscanf(pieces[1], "%d", &fmtp.PacketizationMode)
			default:
				return errMalformedFormatParameters
			}
		case "profile-level-id":
			if _, err := fmt.Sscanf(pieces[1], "%06x", &fmtp.ProfileLevelID); err != nil {
				return errMalformedFormatParameters
			}
		case "sprop-parameter-sets":
			for _, e := range strings.Split(pieces[1], ",") {
				ps, err := base64.StdEncoding.DecodeString(e)
				if err != nil {
					return errMalformedFormatParameters
				}
				fmtp.SpropParameterSets = append(fmtp.SpropParameterSets, ps)
			}
		}
	}
	return nil
}
