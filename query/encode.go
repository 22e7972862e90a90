package query

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/props"
)

// ProtocolVersion selects the response envelope.
type ProtocolVersion int

const (
	// Framed is protocol 1.4: header, version byte, length, payload.
	Framed ProtocolVersion = iota
	// Legacy is protocol 1.1: the bare payload.
	Legacy
)

func (v ProtocolVersion) String() string {
	if v == Legacy {
		return "1.1"
	}
	return "1.4"
}

const (
	header      = "ZBXD"
	frameFormat = 0x01
	// HeaderLen is the size of the 1.4 envelope preceding the payload.
	HeaderLen = len(header) + 1 + 8
)

// MaxResponseLen bounds the payload Decode accepts.
const MaxResponseLen = 128 << 20

// ProtocolKey is the property holding the protocol version.
const ProtocolKey = props.ProtocolKey

// ParseProtocol maps a configured value to a version. Unset means Framed;
// ok is false only for a value that is set but not recognized.
func ParseProtocol(s string) (v ProtocolVersion, ok bool) {
	switch s {
	case "", "1.4":
		return Framed, true
	case "1.1":
		return Legacy, true
	}
	return Framed, false
}

// Latin1 decodes b one byte per character.
func Latin1(b []byte) string {
	if isASCII(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Encode renders response for the wire. Payloads are single-byte-character
// text: every character is truncated to its low 8 bits, so characters above
// U+00FF do not survive. Bytes that are not valid UTF-8 are already single
// characters and pass through unchanged. The 1.4 length field counts
// characters.
func Encode(response string, v ProtocolVersion) []byte {
	payload := make([]byte, 0, len(response))
	for i := 0; i < len(response); {
		r, size := utf8.DecodeRuneInString(response[i:])
		if r == utf8.RuneError && size == 1 {
			payload = append(payload, response[i])
		} else {
			payload = append(payload, byte(r))
		}
		i += size
	}
	if v != Framed {
		return payload
	}
	out := make([]byte, 0, HeaderLen+len(payload))
	out = append(out, header...)
	out = append(out, frameFormat)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(payload)))
	return append(out, payload...)
}

// Encoder frames responses according to the protocol property, which it
// reads afresh on every call.
type Encoder struct {
	Properties Properties
	Logger     logger.Logger
}

// Version resolves the protocol version now. An unrecognized value is
// logged and treated as 1.4.
func (e *Encoder) Version() ProtocolVersion {
	var s string
	if e.Properties != nil {
		s, _ = e.Properties.Property(ProtocolKey)
	}
	v, ok := ParseProtocol(s)
	if !ok && e.Logger != nil {
		e.Logger.Warnf("unsupported protocol '%s', using 1.4", s)
	}
	return v
}

func (e *Encoder) Encode(response string) []byte {
	return Encode(response, e.Version())
}

// Decode reads one response from r, the way a monitoring server would. A
// stream starting with the 1.4 header is read as a frame; anything else is
// read to end-of-stream as a 1.1 response.
func Decode(r io.Reader) (string, ProtocolVersion, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(len(header) + 1)
	if err != nil && err != io.EOF {
		return "", Framed, errors.Wrap(err, "reading response")
	}
	if !bytes.Equal(peek, append([]byte(header), frameFormat)) {
		rest, err := io.ReadAll(br)
		if err != nil {
			return "", Legacy, errors.Wrap(err, "reading legacy response")
		}
		return Latin1(rest), Legacy, nil
	}

	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return "", Framed, errors.Wrap(err, "reading response header")
	}
	n := binary.LittleEndian.Uint64(hdr[len(header)+1:])
	if n > MaxResponseLen {
		return "", Framed, errors.Errorf("response length %d exceeds %d", n, uint64(MaxResponseLen))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(br, payload); err != nil {
		return "", Framed, errors.Wrapf(err, "reading %d byte payload", n)
	}
	return Latin1(payload), Framed, nil
}
