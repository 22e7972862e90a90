// Package query turns one request line of the Zabbix passive-check protocol
// into a response: Parse recognizes the item key, a Dispatcher resolves it
// and Encode frames the answer for the wire.
package query

import (
	"strings"
)

// NotSupported is what the monitoring server reads as "this agent does not
// support the item". It is a normal response value, framed like any other.
const NotSupported = "ZBX_NOTSUPPORTED"

// Kind enumerates the item keys the agent understands.
type Kind int

const (
	Unknown Kind = iota
	ManagedAttribute
	SystemProperty
	Environment
	Ping
	Version
)

func (k Kind) String() string {
	switch k {
	case ManagedAttribute:
		return "jmx"
	case SystemProperty:
		return "system.property"
	case Environment:
		return "system.env"
	case Ping:
		return "agent.ping"
	case Version:
		return "agent.version"
	default:
		return "unknown"
	}
}

// Query is one parsed request. Only the fields of its Kind are set.
type Query struct {
	Kind Kind
	// ObjectName and AttributeName are set for ManagedAttribute.
	ObjectName    string
	AttributeName string
	// Key is set for SystemProperty and Environment.
	Key string
}

// Parse never fails: anything it does not recognize is Unknown.
//
// jmx[object][attribute] takes the object name from between the first '['
// and the last ']' before the last '['; object names containing ']' are not
// supported. system.property[key] and system.env[key] take the key from
// between the last '[' and the last ']'.
func Parse(line string) Query {
	switch {
	case strings.HasPrefix(line, "jmx"):
		lastOpen := strings.LastIndexByte(line, '[')
		firstOpen := strings.IndexByte(line, '[')
		firstClose := -1
		if lastOpen >= 0 {
			firstClose = strings.LastIndexByte(line[:lastOpen], ']')
		}
		return Query{
			Kind:          ManagedAttribute,
			ObjectName:    between(line, firstOpen, firstClose),
			AttributeName: lastBracketed(line),
		}
	case strings.HasPrefix(line, "system.property"):
		return Query{Kind: SystemProperty, Key: lastBracketed(line)}
	case strings.HasPrefix(line, "system.env"):
		return Query{Kind: Environment, Key: lastBracketed(line)}
	case line == "agent.ping":
		return Query{Kind: Ping}
	case line == "agent.version":
		return Query{Kind: Version}
	}
	return Query{Kind: Unknown}
}

func lastBracketed(line string) string {
	return between(line, strings.LastIndexByte(line, '['), strings.LastIndexByte(line, ']'))
}

// between returns the text strictly between the brackets at start and end,
// or "" when either is missing or they are out of order.
func between(line string, start, end int) string {
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return line[start+1 : end]
}
