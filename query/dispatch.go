package query

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/mbean"
)

// Properties is a read-only view of the process-wide property table.
type Properties interface {
	Property(key string) (string, bool)
}

// Env looks up environment variables.
type Env interface {
	LookupEnv(key string) (string, bool)
}

type osEnv struct{}

func (osEnv) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

// OSEnv reads the process environment.
var OSEnv Env = osEnv{}

// Dispatcher resolves parsed queries. Its collaborators are read on every
// call; nothing is cached between requests.
type Dispatcher struct {
	Objects     mbean.Source
	Properties  Properties
	Environment Env
	// Identity answers agent.version.
	Identity string
	Logger   logger.Logger
}

// Dispatch answers q. A missing object or attribute yields NotSupported and
// a missing property or variable yields ""; neither is an error. An error is
// returned only when a collaborator fails in some other way, which the
// caller treats as fatal for the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, q Query) (string, error) {
	switch q.Kind {
	case ManagedAttribute:
		return d.attribute(ctx, q.ObjectName, q.AttributeName)
	case SystemProperty:
		d.logger().Debugf("system property[%s]", q.Key)
		if d.Properties == nil {
			return "", nil
		}
		v, _ := d.Properties.Property(q.Key)
		return v, nil
	case Environment:
		d.logger().Debugf("environment[%s]", q.Key)
		env := d.Environment
		if env == nil {
			env = OSEnv
		}
		v, _ := env.LookupEnv(q.Key)
		return v, nil
	case Ping:
		return "1", nil
	case Version:
		return d.Identity, nil
	}
	return NotSupported, nil
}

func (d *Dispatcher) attribute(ctx context.Context, objectName, attributeName string) (string, error) {
	if d.Objects == nil {
		d.logger().Debugf("no object source, %s[%s] not supported", objectName, attributeName)
		return NotSupported, nil
	}
	v, err := d.Objects.Attribute(ctx, objectName, attributeName)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, mbean.ErrInstanceNotFound):
		d.logger().Debugf("no object named %s: %v", objectName, err)
		return NotSupported, nil
	case errors.Is(err, mbean.ErrAttributeNotFound):
		d.logger().Debugf("no attribute named %s on object named %s: %v", attributeName, objectName, err)
		return NotSupported, nil
	}
	return "", errors.Wrapf(err, "resolving %s[%s]", objectName, attributeName)
}

func (d *Dispatcher) logger() logger.Logger {
	if d.Logger == nil {
		return logger.NopLogger
	}
	return d.Logger
}
