package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"codearena/internal/catalog"
	"codearena/internal/common/cache"
	"codearena/internal/common/errors"
	"codearena/internal/redis"
)

type purgeOptions struct {
	all    bool
	key    string
	prefix string
}

func (o purgeOptions) validate() error {
	set := 0
	for _, on := range []bool{o.all, o.key != "", o.prefix != ""} {
		if on {
			set++
		}
	}
	if set != 1 {
		return errors.ValidationError("exactly one of --all, --key or --prefix is required")
	}
	return nil
}

func newCacheCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and purge the catalog cache",
	}

	var opts purgeOptions
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached catalog entries from Redis and every running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			client, err := redis.NewClient(&redis.Config{
				Address:  c.cfg.RedisAddress,
				Password: c.cfg.RedisPassword,
				DB:       c.cfg.RedisDB,
				PoolSize: c.cfg.RedisPoolSize,
				TLS:      c.cfg.RedisTLS,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			remote := cache.NewRedisRemote(client, cache.RemoteConfig{Timeout: c.cfg.RemoteCacheTimeout}, c.logger)

			var invalidator catalog.Invalidator
			if c.cfg.InvalidationChannel != "" {
				invalidator = cache.NewBroadcaster(client, c.cfg.InvalidationChannel, nil, c.logger)
			}

			n, err := purgeCache(cmd.Context(), remote, invalidator, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d remote keys\n", n)
			return nil
		},
	}
	purge.Flags().BoolVar(&opts.all, "all", false, "purge every catalog key")
	purge.Flags().StringVar(&opts.key, "key", "", "purge a single key, e.g. problem:id:42")
	purge.Flags().StringVar(&opts.prefix, "prefix", "", "purge every key starting with this prefix")

	cmd.AddCommand(purge)
	return cmd
}

// purgeCache deletes the selected keys from the remote tier and tells live
// instances to drop them locally. It returns the number of remote keys removed.
func purgeCache(ctx context.Context, remote cache.RemoteCache, invalidator catalog.Invalidator, opts purgeOptions) (int, error) {
	var (
		keys     []string
		prefixes []string
		deleted  int
	)

	switch {
	case opts.key != "":
		n, err := remote.DeleteByPattern(ctx, globEscape(opts.key))
		if err != nil {
			return 0, err
		}
		keys = []string{opts.key}
		deleted = n
	case opts.prefix != "":
		prefixes = []string{opts.prefix}
	case opts.all:
		prefixes = catalog.KeyPrefixes()
	}

	for _, prefix := range prefixes {
		n, err := remote.DeleteByPattern(ctx, globEscape(prefix)+"*")
		deleted += n
		if err != nil {
			return deleted, err
		}
	}

	if invalidator != nil {
		if err := invalidator.Publish(ctx, keys, prefixes); err != nil {
			return deleted, fmt.Errorf("remote keys purged but broadcast failed: %w", err)
		}
	}
	return deleted, nil
}

var globSpecial = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// globEscape makes s match only itself in a Redis SCAN pattern.
func globEscape(s string) string {
	return globSpecial.Replace(s)
}
