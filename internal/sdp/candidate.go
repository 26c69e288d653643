package sdp

import (
	"fmt"
	"strconv"
	"strings"
)

// Candidate is a single ICE candidate as carried in an "a=candidate:" SDP
// attribute (RFC 8839 section 5.1). Only the host candidates this module
// gathers and emits are modeled; other types parse too, and Type holds the
// parsed "typ" value rather than forcing them into "host".
type Candidate struct {
	Foundation string
	Component  int
	Transport  string
	Priority   uint32
	Address    string
	Port       int
	Type       string
}

func (c Candidate) String() string {
	return fmt.Sprintf("candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Transport, c.Priority, c.Address, c.Port, c.Type)
}

// ParseCandidate parses the value following "a=candidate:" (the "candidate:"
// prefix itself may or may not be present; both are accepted).
func ParseCandidate(s string) (Candidate, error) {
	s = strings.TrimPrefix(s, "candidate:")
	fields := strings.Fields(s)
	if len(fields) < 8 {
		return Candidate{}, &parseError{"candidate", s, nil}
	}

	var c Candidate
	c.Foundation = fields[0]
	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return Candidate{}, &parseError{"candidate component", s, err}
	}
	c.Component = component
	c.Transport = fields[2]
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Candidate{}, &parseError{"candidate priority", s, err}
	}
	c.Priority = uint32(priority)
	c.Address = fields[4]
	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return Candidate{}, &parseError{"candidate port", s, err}
	}
	c.Port = port

	for i := 6; i+1 < len(fields); i += 2 {
		if fields[i] == "typ" {
			c.Type = fields[i+1]
		}
	}
	return c, nil
}

// HostPriority computes the RFC 8445 section 5.1.2 recommended priority for
// a single host candidate on a single-component, single-interface agent:
// type preference 126, local preference 65535, component 1.
func HostPriority() uint32 {
	const typePreference = 126
	const localPreference = 65535
	const componentID = 1
	return (typePreference << 24) | (localPreference << 8) | (256 - componentID)
}
