package mbean

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ObjectName identifies a managed object: a domain followed by an unordered
// set of key properties, written as "domain:key=value,key=value".
type ObjectName struct {
	Domain     string
	Properties map[string]string
}

// ParseObjectName parses "domain:key=value[,key=value...]".
func ParseObjectName(s string) (ObjectName, error) {
	domain, rest, ok := strings.Cut(s, ":")
	if !ok || domain == "" {
		return ObjectName{}, errors.Errorf("object name %q has no domain", s)
	}
	if rest == "" {
		return ObjectName{}, errors.Errorf("object name %q has no key properties", s)
	}
	props := make(map[string]string)
	for _, pair := range strings.Split(rest, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return ObjectName{}, errors.Errorf("object name %q: malformed key property %q", s, pair)
		}
		if _, dup := props[key]; dup {
			return ObjectName{}, errors.Errorf("object name %q: duplicate key %q", s, key)
		}
		props[key] = value
	}
	return ObjectName{Domain: domain, Properties: props}, nil
}

// Canonical returns the name with its key properties sorted by key, so two
// spellings of the same name compare equal.
func (n ObjectName) Canonical() string {
	keys := make([]string, 0, len(n.Properties))
	for k := range n.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(n.Domain)
	sb.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(n.Properties[k])
	}
	return sb.String()
}

// CanonicalName canonicalizes s when it parses as an object name and
// returns it unchanged otherwise.
func CanonicalName(s string) string {
	n, err := ParseObjectName(s)
	if err != nil {
		return s
	}
	return n.Canonical()
}
