package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/router-for-me/codexgate/internal/auth/codex"
	"github.com/router-for-me/codexgate/internal/config"
	"github.com/router-for-me/codexgate/internal/util"
	log "github.com/sirupsen/logrus"
)

// Open builds the credential backend selected by cfg.Store.Type. The returned close
// function releases backend resources and is never nil.
func Open(ctx context.Context, cfg *config.Config) (codex.CredentialStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Type {
	case "", "file":
		dir, err := util.ResolveAuthDir(cfg.AuthDir)
		if err != nil {
			return nil, noop, err
		}
		fs, err := NewFileStore(filepath.Join(dir, config.DefaultCredentialFile))
		if err != nil {
			return nil, noop, err
		}
		log.Infof("credential store: file %s", fs.Path())
		return fs, noop, nil
	case "postgres":
		pg, err := NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:    cfg.Store.Postgres.DSN,
			Schema: cfg.Store.Postgres.Schema,
			Table:  cfg.Store.Postgres.Table,
		})
		if err != nil {
			return nil, noop, err
		}
		if err = pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, noop, err
		}
		log.Infof("credential store: postgres table %s", pg.fullTableName())
		return pg, pg.Close, nil
	case "object":
		obj, err := NewObjectStore(ObjectStoreConfig{
			Endpoint:  cfg.Store.Object.Endpoint,
			Bucket:    cfg.Store.Object.Bucket,
			AccessKey: cfg.Store.Object.AccessKey,
			SecretKey: cfg.Store.Object.SecretKey,
			Region:    cfg.Store.Object.Region,
			Prefix:    cfg.Store.Object.Prefix,
			UseSSL:    cfg.Store.Object.UseSSL,
			PathStyle: cfg.Store.Object.PathStyle,
		})
		if err != nil {
			return nil, noop, err
		}
		if err = obj.Bootstrap(ctx); err != nil {
			return nil, noop, err
		}
		log.Infof("credential store: object %s/%s", cfg.Store.Object.Bucket, obj.Key())
		return obj, noop, nil
	default:
		return nil, noop, fmt.Errorf("credential store: unsupported type %q", cfg.Store.Type)
	}
}
