// Package sdp implements the subset of SDP (RFC 4566) and the trickle-ICE
// SDP attributes (draft-ietf-mmusic-ice-sip-sdp) this module's signaling
// surface emits and parses (component C15): enough to build the single
// m=video line described in this module's SDP surface, and to robustly pull
// ICE/DTLS/SSRC attributes back out of whatever a remote peer sends.
package sdp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanikai/aloharx/internal/logging"
)

type Session struct {
	Version    int
	Origin     Origin
	Name       string
	Info       string
	URI        string
	Email      string
	Phone      string
	Connection *Connection
	Time       []Time
	Attributes []Attribute
	Media      []Media

	attributeCache map[string]string
}

type Origin struct {
	Username       string
	SessionID      string
	SessionVersion uint64
	NetworkType    string
	AddressType    string
	Address        string
}

type Connection struct {
	NetworkType string
	AddressType string
	Address     string
}

type Time struct {
	Start *time.Time
	Stop  *time.Time
}

type Attribute struct {
	Key   string
	Value string
}

type Media struct {
	Type   string
	Port   int
	Proto  string
	Format []string

	Info       string
	Connection *Connection
	Attributes []Attribute

	attributeCache map[string]string
}

type writer strings.Builder

func (w *writer) Write(fragments ...string) {
	for _, s := range fragments {
		(*strings.Builder)(w).WriteString(s)
	}
}

func (w *writer) Writef(format string, args ...interface{}) {
	fmt.Fprintf((*strings.Builder)(w), format, args...)
}

func (w *writer) String() string {
	return (*strings.Builder)(w).String()
}

type parseError struct {
	which string
	value string
	cause error
}

func (e *parseError) Error() string {
	msg := fmt.Sprintf("sdp: invalid %s line: %q", e.which, e.value)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (o Origin) String() string {
	return fmt.Sprintf("%s %s %d %s %s %s",
		o.Username, o.SessionID, o.SessionVersion, o.NetworkType, o.AddressType, o.Address)
}

func parseOrigin(s string) (Origin, error) {
	var o Origin
	_, err := fmt.Sscanf(s, "%s %s %d %s %s %s",
		&o.Username, &o.SessionID, &o.SessionVersion, &o.NetworkType, &o.AddressType, &o.Address)
	return o, err
}

func (c Connection) String() string {
	return fmt.Sprintf("%s %s %s", c.NetworkType, c.AddressType, c.Address)
}

func parseConnection(s string) (Connection, error) {
	var c Connection
	_, err := fmt.Sscanf(s, "%s %s %s", &c.NetworkType, &c.AddressType, &c.Address)
	return c, err
}

const ntpUnixOffset = 2208988800

func (t Time) String() string {
	return fmt.Sprintf("%d %d", toNTP(t.Start), toNTP(t.Stop))
}

func parseTime(s string) (Time, error) {
	var t Time
	var start, stop int64
	_, err := fmt.Sscanf(s, "%d %d", &start, &stop)
	t.Start = fromNTP(start)
	t.Stop = fromNTP(stop)
	return t, err
}

func toNTP(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix() + ntpUnixOffset
}

func fromNTP(ntp int64) *time.Time {
	if ntp == 0 {
		return nil
	}
	t := time.Unix(ntp-ntpUnixOffset, 0)
	return &t
}

func (a Attribute) String() string {
	if a.Value == "" {
		return a.Key
	}
	return fmt.Sprintf("%s:%s", a.Key, a.Value)
}

// parseAttribute splits "key:value" or a bare "key" flag attribute. Unlike
// the rest of this parser's line handlers, this never errors -- any text
// after "a=" is a legal attribute name even without a colon (RFC 4566
// section 9's grammar allows bare att-field), so there is nothing to reject.
func parseAttribute(s string) Attribute {
	f := strings.SplitN(s, ":", 2)
	a := Attribute{Key: f[0]}
	if len(f) == 2 {
		a.Value = f[1]
	}
	return a
}

func attrCache(cache map[string]string, attrs []Attribute) map[string]string {
	if cache != nil {
		return cache
	}
	cache = make(map[string]string, len(attrs))
	for _, a := range attrs {
		if _, ok := cache[a.Key]; !ok {
			cache[a.Key] = a.Value
		}
	}
	return cache
}

// GetAttr returns the value of the first attribute with this key, or "" if
// absent. Flag attributes (no value) return "".
func (m *Media) GetAttr(key string) string {
	m.attributeCache = attrCache(m.attributeCache, m.Attributes)
	return m.attributeCache[key]
}

// HasAttr reports whether a flag (or any) attribute with this key is present.
func (m *Media) HasAttr(key string) bool {
	m.attributeCache = attrCache(m.attributeCache, m.Attributes)
	_, ok := m.attributeCache[key]
	return ok
}

func (m *Media) String() string {
	var w writer
	w.Writef("m=%s %d %s %s\r\n", m.Type, m.Port, m.Proto, strings.Join(m.Format, " "))
	if m.Info != "" {
		w.Write("i=", m.Info, "\r\n")
	}
	if m.Connection != nil {
		w.Write("c=", m.Connection.String(), "\r\n")
	}
	for _, a := range m.Attributes {
		w.Write("a=", a.String(), "\r\n")
	}
	return w.String()
}

func parseMedia(text string, log zerolog.Logger) (m Media, rest string, err error) {
	line, more := nextLine(text)
	if len(line) < 2 || line[0:2] != "m=" {
		return m, text, &parseError{"media", line, nil}
	}

	fields := strings.Fields(line[2:])
	if len(fields) < 3 {
		return m, text, &parseError{"media", line, nil}
	}
	m.Type = fields[0]
	m.Port, err = strconv.Atoi(fields[1])
	if err != nil {
		return m, text, &parseError{"media port", line, err}
	}
	m.Proto = fields[2]
	m.Format = fields[3:]

	for text = more; text != ""; text = more {
		line, more = nextLine(text)
		typecode, value, ok := splitTypeValue(line)
		if !ok {
			log.Debug().Str("line", line).Msg("skipping malformed SDP line")
			continue
		}
		switch typecode {
		case 'm':
			return m, text, nil
		case 'i':
			m.Info = value
		case 'c':
			c, cerr := parseConnection(value)
			if cerr != nil {
				log.Debug().Str("line", line).Err(cerr).Msg("skipping malformed connection line")
				continue
			}
			m.Connection = &c
		case 'a':
			m.Attributes = append(m.Attributes, parseAttribute(value))
		}
	}
	return m, text, nil
}

func (s *Session) GetAttr(key string) string {
	s.attributeCache = attrCache(s.attributeCache, s.Attributes)
	return s.attributeCache[key]
}

// HasAttr reports whether a flag (or any) session-level attribute with this
// key is present.
func (s *Session) HasAttr(key string) bool {
	s.attributeCache = attrCache(s.attributeCache, s.Attributes)
	_, ok := s.attributeCache[key]
	return ok
}

func (s *Session) String() string {
	var w writer
	w.Writef("v=%d\r\n", s.Version)
	w.Write("o=", s.Origin.String(), "\r\n")
	w.Write("s=", s.Name, "\r\n")
	if s.Info != "" {
		w.Write("i=", s.Info, "\r\n")
	}
	if s.URI != "" {
		w.Write("u=", s.URI, "\r\n")
	}
	if s.Email != "" {
		w.Write("e=", s.Email, "\r\n")
	}
	if s.Phone != "" {
		w.Write("p=", s.Phone, "\r\n")
	}
	if s.Connection != nil {
		w.Write("c=", s.Connection.String(), "\r\n")
	}
	for _, t := range s.Time {
		w.Write("t=", t.String(), "\r\n")
	}
	for _, a := range s.Attributes {
		w.Write("a=", a.String(), "\r\n")
	}
	for _, m := range s.Media {
		w.Write(m.String())
	}
	return w.String()
}

// ParseSession parses a full SDP session description. Per this module's
// attribute-robustness policy, a line this parser cannot make sense of is
// logged and skipped rather than aborting the whole parse -- only a
// malformed media (m=) line is fatal, and ParseSession then returns its
// error. Malformed v=/o=/c=/t= lines are logged and skipped too. Pass
// zerolog.Nop() to silence the skip logging.
func ParseSession(text string, log zerolog.Logger) (Session, error) {
	log = logging.Component(log, "sdp")
	var s Session
	var line, more string
	for ; text != ""; text = more {
		line, more = nextLine(text)
		typecode, value, ok := splitTypeValue(line)
		if !ok {
			log.Debug().Str("line", line).Msg("skipping malformed SDP line")
			continue
		}

		var err error
		switch typecode {
		case 'v':
			s.Version, err = strconv.Atoi(value)
		case 'o':
			s.Origin, err = parseOrigin(value)
		case 's':
			s.Name = value
		case 'i':
			s.Info = value
		case 'u':
			s.URI = value
		case 'e':
			s.Email = value
		case 'p':
			s.Phone = value
		case 'c':
			var c Connection
			c, err = parseConnection(value)
			s.Connection = &c
		case 't':
			var t Time
			t, err = parseTime(value)
			s.Time = append(s.Time, t)
		case 'a':
			s.Attributes = append(s.Attributes, parseAttribute(value))
		case 'm':
			var m Media
			m, more, err = parseMedia(text, log)
			if err != nil {
				return s, err
			}
			s.Media = append(s.Media, m)
		}

		if err != nil {
			log.Debug().Str("line", line).Err(err).Msg("skipping malformed SDP line")
		}
	}
	return s, nil
}

func nextLine(input string) (line, remainder string) {
	n := strings.IndexByte(input, '\n')
	if n == -1 {
		return input, ""
	}
	if n > 0 && input[n-1] == '\r' {
		line = input[:n-1]
	} else {
		line = input[:n]
	}
	remainder = input[n+1:]
	return
}

func splitTypeValue(line string) (typecode byte, value string, ok bool) {
	if len(line) < 2 || line[1] != '=' {
		return 0, "", false
	}
	return line[0], line[2:], true
}
