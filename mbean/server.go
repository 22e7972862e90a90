// Package mbean holds the managed objects whose attributes the agent can
// report. Objects are registered under an object name and expose a set of
// named attributes, each computed on demand.
package mbean

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrInstanceNotFound is returned when no object is registered under
	// the requested name.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrAttributeNotFound is returned when the object exists but has no
	// attribute with the requested name.
	ErrAttributeNotFound = errors.New("attribute not found")
)

// Source resolves an attribute of a managed object to its text value.
type Source interface {
	Attribute(ctx context.Context, objectName, attributeName string) (string, error)
}

// Attribute computes the current value of one attribute.
type Attribute func() (any, error)

// Attributes maps attribute names to their getters.
type Attributes map[string]Attribute

// Static returns an Attribute that always yields v.
func Static(v any) Attribute {
	return func() (any, error) { return v, nil }
}

// Server is an in-process registry of managed objects.
type Server struct {
	mu      sync.RWMutex
	objects map[string]Attributes
}

var _ Source = (*Server)(nil)

func NewServer() *Server {
	return &Server{objects: make(map[string]Attributes)}
}

// Register adds or replaces the object with the given name.
func (s *Server) Register(name string, attrs Attributes) error {
	on, err := ParseObjectName(name)
	if err != nil {
		return errors.Wrap(err, "registering object")
	}
	copied := make(Attributes, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	s.mu.Lock()
	s.objects[on.Canonical()] = copied
	s.mu.Unlock()
	return nil
}

// Unregister removes the object, reporting whether it was registered.
func (s *Server) Unregister(name string) bool {
	key := CanonicalName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	delete(s.objects, key)
	return ok
}

// Names returns the canonical names of all registered objects, sorted.
func (s *Server) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Attribute looks up an attribute. A name of the form "Attr.key" that does
// not match an attribute directly selects the entry "key" of the composite
// (map) value of "Attr".
func (s *Server) Attribute(_ context.Context, objectName, attributeName string) (string, error) {
	s.mu.RLock()
	attrs, ok := s.objects[CanonicalName(objectName)]
	s.mu.RUnlock()
	if !ok {
		return "", errors.Wrapf(ErrInstanceNotFound, "no object named %s", objectName)
	}

	if get, ok := attrs[attributeName]; ok {
		v, err := get()
		if err != nil {
			return "", errors.Wrapf(err, "reading %s of %s", attributeName, objectName)
		}
		return Format(v), nil
	}

	base, item, ok := strings.Cut(attributeName, ".")
	if get, found := attrs[base]; ok && found {
		v, err := get()
		if err != nil {
			return "", errors.Wrapf(err, "reading %s of %s", base, objectName)
		}
		if composite, isMap := v.(map[string]any); isMap {
			if iv, ok := composite[item]; ok {
				return Format(iv), nil
			}
		}
	}
	return "", errors.Wrapf(ErrAttributeNotFound, "no attribute named %s on object %s", attributeName, objectName)
}

// Format renders an attribute value as protocol text. Nil renders empty.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + Format(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(x)
	}
}

// chain asks each source in turn until one knows the object.
type chain []Source

// Chain returns a Source that consults sources in order. A source answering
// ErrInstanceNotFound passes the query on; any other outcome is final.
func Chain(sources ...Source) Source {
	var c chain
	for _, s := range sources {
		if s != nil {
			c = append(c, s)
		}
	}
	return c
}

func (c chain) Attribute(ctx context.Context, objectName, attributeName string) (string, error) {
	for _, s := range c {
		v, err := s.Attribute(ctx, objectName, attributeName)
		if errors.Is(err, ErrInstanceNotFound) {
			continue
		}
		return v, err
	}
	return "", errors.Wrapf(ErrInstanceNotFound, "no object named %s", objectName)
}
