package config

import "strings"

// LookupFunc reads one environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnvironment overlays deployment settings taken from the environment onto cfg.
// A Postgres DSN selects the postgres store and an object store endpoint selects the
// object store, with Postgres taking precedence when both are present.
func ApplyEnvironment(cfg *Config, lookup LookupFunc) {
	if cfg == nil || lookup == nil {
		return
	}
	lookupEnv := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}

	if value, ok := lookupEnv("MANAGEMENT_KEY", "management_key"); ok {
		cfg.ManagementKey = value
	}

	if value, ok := lookupEnv("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		cfg.Store.Type = "object"
		cfg.Store.Object.Endpoint = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key"); ok {
		cfg.Store.Object.AccessKey = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key"); ok {
		cfg.Store.Object.SecretKey = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_BUCKET", "objectstore_bucket"); ok {
		cfg.Store.Object.Bucket = value
	}

	if value, ok := lookupEnv("PGSTORE_DSN", "pgstore_dsn"); ok {
		cfg.Store.Type = "postgres"
		cfg.Store.Postgres.DSN = value
	}
	if value, ok := lookupEnv("PGSTORE_SCHEMA", "pgstore_schema"); ok {
		cfg.Store.Postgres.Schema = value
	}
}
