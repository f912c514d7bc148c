package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/pavelkalin/typeorm/cache"
	"github.com/pavelkalin/typeorm/env"
	"github.com/pavelkalin/typeorm/logger"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var rootCmd = &cobra.Command{
	Use:          "cachectl",
	Short:        "Administer a query-result cache out of band",
	Long:         "cachectl connects to the storage backend behind a query-result cache\nand invalidates entries without going through the owning application.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the YAML cache configuration")
	rootCmd.PersistentFlags().String("env-file", "", "environment file applied before resolving settings")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("addr", "", "key-value store address, overrides the configuration")
	rootCmd.PersistentFlags().String("dsn", "", "sqlite dsn for the table backend")
	rootCmd.AddCommand(clearCmd, removeCmd, hashCmd)
}

// buildCache resolves configuration from flags, environment and the YAML
// file, then connects. The returned closer releases the backend and any
// database handle this process opened.
func buildCache(cmd *cobra.Command) (*cache.Cache, logger.Logger, func(), error) {
	if envFile := env.FlagOrEnv(cmd, "env-file", "TYPEORM_CACHE_ENV_FILE", ""); envFile != "" {
		lines, err := env.ParseEnvFile(envFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read env file: %w", err)
		}
		env.Apply(lines)
	}
	log := env.NewLogger(cmd)

	var cfg cache.Config
	if path := env.FlagOrEnv(cmd, "config", "TYPEORM_CACHE_CONFIG", ""); path != "" {
		loaded, err := cache.LoadConfig(path)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg = loaded
	}
	if addr := env.FlagOrEnv(cmd, "addr", "TYPEORM_CACHE_ADDR", ""); addr != "" {
		cfg.KV.Addr = addr
		if cfg.Type == "" {
			cfg.Type = cache.TypeKV
		}
	}
	if password, ok := os.LookupEnv("TYPEORM_CACHE_PASSWORD"); ok {
		cfg.KV.Password = password
		cfg.Cluster.Password = password
	}
	cfg.Enabled = true

	cleanup := func() {}
	switch cfg.Type {
	case "":
		return nil, nil, nil, fmt.Errorf("no backend configured, pass --config or --addr")
	case cache.TypeTable:
		dsn := env.FlagOrEnv(cmd, "dsn", "TYPEORM_CACHE_DSN", "")
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("the table backend needs --dsn or TYPEORM_CACHE_DSN")
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open %s: %w", dsn, err)
		}
		cfg.DB = db
		cleanup = func() { _ = db.Close() }
	case cache.TypeMemory, cache.TypeCustom:
		return nil, nil, nil, fmt.Errorf("the %s backend lives in-process and cannot be administered here", cfg.Type)
	}

	c, err := cache.New(cmd.Context(), cfg, log)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := c.Connect(cmd.Context()); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	closer := func() {
		_ = c.Close(context.Background())
		cleanup()
	}
	return c, log, closer, nil
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every entry in the cache namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, log, closer, err := buildCache(cmd)
		if err != nil {
			return err
		}
		defer closer()
		if err := c.Clear(cmd.Context()); err != nil {
			return err
		}
		log.Info("cache cleared")
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <identifier>...",
	Short: "Invalidate entries by identifier",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, log, closer, err := buildCache(cmd)
		if err != nil {
			return err
		}
		defer closer()
		if err := c.Remove(cmd.Context(), args...); err != nil {
			return err
		}
		log.Info("removed %d identifiers", len(args))
		return nil
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash <query>",
	Short: "Print the hashed identifier for a query text",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cache.HashIdentifier(args[0]))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
