// Package nvm persists the session context across restarts. Restore failing
// means "no prior context" and the device commissions from scratch; Store is
// best effort.
package nvm

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loranode/lorawan-device-agent/internal/config"
	"github.com/loranode/lorawan-device-agent/internal/mac"
)

// ErrNoContext is returned by Restore when no prior context exists.
var ErrNoContext = errors.New("nvm: no stored context")

// Context is the persisted session context.
type Context struct {
	DevEUI      lorawan.EUI64
	DevAddr     lorawan.DevAddr
	Activation  mac.Activation
	DeviceClass mac.DeviceClass
	ADR         bool
	StoredAt    time.Time
}

// Store is the persistence contract consumed by the session controller.
type Store interface {
	Restore() (Context, error)
	Store(Context) error
}

// Setup returns the configured store backend.
func Setup(c config.Config) (Store, error) {
	switch c.NVM.Backend {
	case "", "file":
		log.WithField("path", c.NVM.File.Path).Info("nvm: using file backend")
		return &fileStore{path: c.NVM.File.Path}, nil
	case "redis":
		log.WithFields(log.Fields{
			"server":     c.NVM.Redis.Server,
			"key_prefix": c.NVM.Redis.KeyPrefix,
		}).Info("nvm: using redis backend")
		return &redisStore{
			client: redis.NewClient(&redis.Options{
				Addr:     c.NVM.Redis.Server,
				Password: c.NVM.Redis.Password,
				DB:       c.NVM.Redis.Database,
			}),
			key: c.NVM.Redis.KeyPrefix + "device:" + c.Device.DevEUIString + ":ctx",
			ttl: c.NVM.Redis.TTL,
		}, nil
	default:
		return nil, errors.Errorf("nvm: unknown backend %s", c.NVM.Backend)
	}
}

func encode(ctx Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ctx); err != nil {
		return nil, errors.Wrap(err, "gob encode error")
	}
	return buf.Bytes(), nil
}

func decode(b []byte) (Context, error) {
	var ctx Context
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ctx); err != nil {
		return ctx, errors.Wrap(err, "gob decode error")
	}
	return ctx, nil
}

// fileStore persists the context to a single file, written atomically.
type fileStore struct {
	path string
}

func (s *fileStore) Restore() (Context, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Context{}, ErrNoContext
		}
		return Context{}, errors.Wrap(err, "read context file error")
	}
	ctx, err := decode(b)
	if err != nil {
		// A corrupt context is treated the same as a missing one.
		log.WithError(err).Warning("nvm: stored context is corrupt, discarding")
		return Context{}, ErrNoContext
	}
	return ctx, nil
}

func (s *fileStore) Store(ctx Context) error {
	b, err := encode(ctx)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return errors.Wrap(err, "write context file error")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "rename context file error")
	}
	return nil
}

// redisStore persists the context to a Redis key.
type redisStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func (s *redisStore) Restore() (Context, error) {
	b, err := s.client.Get(context.Background(), s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Context{}, ErrNoContext
		}
		return Context{}, errors.Wrap(err, "get context key error")
	}
	ctx, err := decode(b)
	if err != nil {
		log.WithError(err).Warning("nvm: stored context is corrupt, discarding")
		return Context{}, ErrNoContext
	}
	return ctx, nil
}

func (s *redisStore) Store(ctx Context) error {
	b, err := encode(ctx)
	if err != nil {
		return err
	}
	if err := s.client.Set(context.Background(), s.key, b, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set context key error")
	}
	return nil
}
