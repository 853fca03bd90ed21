// Package config loads a flock.Config from the process environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/flockbus/flock"
)

// Env mirrors flock.Config in a form envconfig can populate from
// environment variables, plus the fields a deployment needs to stand
// up the transport and directory endpoints a flock.Config alone
// doesn't carry (those live outside the core package to keep it free
// of transport concerns).
type Env struct {
	Self                      string        `envconfig:"FLOCK_SELF" required:"true"`
	Endpoint                  string        `envconfig:"FLOCK_ENDPOINT" required:"true"`
	DirectoryEndpoints        []string      `envconfig:"FLOCK_DIRECTORY_ENDPOINTS"`
	IsDirectoryPickedRandomly bool          `envconfig:"FLOCK_DIRECTORY_RANDOM" default:"false"`
	IsPersistent              bool          `envconfig:"FLOCK_PERSISTENT" default:"false"`
	RegistrationTimeout       time.Duration `envconfig:"FLOCK_REGISTRATION_TIMEOUT" default:"5s"`
	DedupCacheSize            int           `envconfig:"FLOCK_DEDUP_CACHE_SIZE" default:"4096"`
	NATSUrl                   string        `envconfig:"FLOCK_NATS_URL" default:"nats://127.0.0.1:4222"`
}

// Load reads an Env from the process environment with envconfig's
// default "" prefix, meaning variable names are taken verbatim from
// the envconfig struct tags above.
func Load() (*Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &e, nil
}

// BusConfig builds the flock.Config subset of e. The caller is still
// responsible for supplying Logger, Pipes, and Container, which have
// no environment representation.
func (e *Env) BusConfig() flock.Config {
	endpoints := make([]flock.Endpoint, len(e.DirectoryEndpoints))
	for i, ep := range e.DirectoryEndpoints {
		endpoints[i] = flock.Endpoint(ep)
	}
	return flock.Config{
		Self:                      flock.PeerId(e.Self),
		Endpoint:                  flock.Endpoint(e.Endpoint),
		DirectoryEndpoints:        endpoints,
		IsDirectoryPickedRandomly: e.IsDirectoryPickedRandomly,
		IsPersistent:              e.IsPersistent,
		RegistrationTimeout:       e.RegistrationTimeout,
		DedupCacheSize:            e.DedupCacheSize,
	}
}
