// Package redisobj serves managed objects published to Redis by other
// processes. Each object is a hash at KeyPrefix + canonical object name;
// hash fields are attribute names.
package redisobj

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/mbean"
)

const KeyPrefix = "zapcat:mbean:"

// Store reads and writes managed objects kept in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

var _ mbean.Source = (*Store)(nil)

// New connects to Redis at addr. If addr is empty, returns nil (Redis is
// disabled). ttl, when positive, expires published objects.
func New(addr string, ttl time.Duration, log logger.Logger) (*Store, error) {
	if addr == "" {
		return nil, nil
	}
	if log == nil {
		log = logger.NopLogger
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}

	log.Infof("redis object store connected: addr=%s", addr)
	return &Store{client: client, ttl: ttl, logger: log}, nil
}

func key(objectName string) string {
	return KeyPrefix + mbean.CanonicalName(objectName)
}

// Attribute implements mbean.Source.
func (s *Store) Attribute(ctx context.Context, objectName, attributeName string) (string, error) {
	k := key(objectName)
	v, err := s.client.HGet(ctx, k, attributeName).Result()
	if err == nil {
		return v, nil
	}
	if err != redis.Nil {
		return "", errors.Wrapf(err, "reading %s from redis", k)
	}

	// Tell a missing object from a missing field.
	n, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return "", errors.Wrapf(err, "checking %s in redis", k)
	}
	if n == 0 {
		return "", errors.Wrapf(mbean.ErrInstanceNotFound, "no object named %s in redis", objectName)
	}
	return "", errors.Wrapf(mbean.ErrAttributeNotFound, "no attribute named %s on redis object %s", attributeName, objectName)
}

// Publish writes attrs into the object's hash, creating it if needed.
func (s *Store) Publish(ctx context.Context, objectName string, attrs map[string]string) error {
	if _, err := mbean.ParseObjectName(objectName); err != nil {
		return errors.Wrap(err, "publishing object")
	}
	if len(attrs) == 0 {
		return errors.Errorf("publishing %s: no attributes", objectName)
	}
	values := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		values[k] = v
	}

	k := key(objectName)
	if err := s.client.HSet(ctx, k, values).Err(); err != nil {
		return errors.Wrapf(err, "writing %s to redis", k)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
			s.logger.Warnf("failed to set expiry on %s: %v", k, err)
		}
	}
	s.logger.Debugf("published %d attributes to %s", len(attrs), k)
	return nil
}

// Remove deletes the object.
func (s *Store) Remove(ctx context.Context, objectName string) error {
	if err := s.client.Del(ctx, key(objectName)).Err(); err != nil {
		return errors.Wrapf(err, "deleting %s from redis", objectName)
	}
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("redis(%s)", s.client.Options().Addr)
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
