// Package config assembles the process-wide, read-mostly configuration
// registry: OS environment, then a local JSON file, then (optionally) the
// coordination store's own config subtree — each layer overriding the
// previous, per spec.md §6 and ark/are/config.py's load_sys_env /
// load_local_env / load_remote_env / load_config order.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ark-go/guardian/coordstore"
)

// Recognized keys, per spec.md §6.
const (
	KeyGuardianID         = "GUARDIAN_ID"
	KeyInstanceID         = "INSTANCE_ID"
	KeyStateServiceHosts  = "STATE_SERVICE_HOSTS"
	KeyPersistentBasePath = "PERSISTENT_BASEPATH"
	KeyPersistInterval    = "PERSIST_INTERVAL"
	KeyPersistTimeout     = "PERSIST_TIMEOUT"
	KeyPersistParameters  = "PERSIST_PARAMETERS"
	KeyARKServerPort      = "ARK_SERVER_PORT"
	KeyLogDir             = "LOG_DIR"
	KeyLogConfDir         = "LOG_CONF_DIR"

	// DefaultPersistentBasePath is the template applied when
	// PERSISTENT_BASEPATH is unset: "/<guardian-id>".
	DefaultPersistentBasePath = "/%s"
)

// defaults mirror ark/are/config.py's module-level defaults so a guardian
// with no local file and no remote config still boots with sane values.
var defaults = map[string]any{
	KeyPersistInterval: "400ms",
	KeyPersistTimeout:  "3s",
}

// Registry is the merged, read-only view of configuration. It is safe for
// concurrent reads; it is never mutated after Load returns.
type Registry struct {
	v *viper.Viper
}

// Load builds a Registry by layering, in increasing priority order:
// the OS environment, localConfPath (a JSON file, skipped if empty or
// missing), and — if store is non-nil — the remote config subtree at
// "<root>/config" (a flat JSON object of key/value pairs, skipped if the
// path does not exist, mirroring load_remote_env's swallowing of
// EPNoNodeError).
func Load(ctx context.Context, localConfPath string, store coordstore.Store, remoteRoot string) (*Registry, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// The environment is loaded at default priority so the local file and
	// the remote subtree both override it.
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			v.SetDefault(kv[:i], kv[i+1:])
		}
	}

	if localConfPath != "" {
		v.SetConfigFile(localConfPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			if !errors.As(err, new(viper.ConfigFileNotFoundError)) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read local file %s: %w", localConfPath, err)
			}
		}
	}

	if store != nil {
		// The remote config read is a one-shot Get through a fresh breaker.
		// A single call cannot open it (that takes five consecutive
		// failures), so a failing Get returns its own error and a hanging
		// Get is bounded only by ctx.
		breaker := coordstore.NewBreakerStore(store, "config-"+remoteRoot)
		remote, err := loadRemote(ctx, breaker, remoteRoot)
		if err != nil {
			return nil, err
		}
		for k, val := range remote {
			v.Set(k, val)
		}
	}

	return &Registry{v: v}, nil
}

// loadRemote reads "<remoteRoot>/config" as a flat JSON object. A missing
// node is not an error — it mirrors EPNoNodeError being swallowed in
// load_remote_env.
func loadRemote(ctx context.Context, store coordstore.Store, remoteRoot string) (map[string]any, error) {
	path := remoteRoot + "/config"
	data, err := store.Get(ctx, path)
	if errors.Is(err, coordstore.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read remote %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("config: decode remote %s: %w", path, err)
	}
	return out, nil
}

// Get returns the string value for key, or def if unset.
func (r *Registry) Get(key, def string) string {
	if !r.v.IsSet(key) {
		return def
	}
	return r.v.GetString(key)
}

// MustGet returns the string value for key, panicking if unset. Use only
// for keys a guardian cannot run without (GUARDIAN_ID, INSTANCE_ID).
func (r *Registry) MustGet(key string) string {
	if !r.v.IsSet(key) {
		panic(fmt.Sprintf("config: required key %q is not set", key))
	}
	return r.v.GetString(key)
}

// PersistentBasePath resolves PERSISTENT_BASEPATH, defaulting to
// fmt.Sprintf(DefaultPersistentBasePath, guardianID) when unset.
func (r *Registry) PersistentBasePath(guardianID string) string {
	if r.v.IsSet(KeyPersistentBasePath) {
		return r.v.GetString(KeyPersistentBasePath)
	}
	return fmt.Sprintf(DefaultPersistentBasePath, guardianID)
}
