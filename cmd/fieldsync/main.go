// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command fieldsync runs the offline-first field data agent and its
// reference backend.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daniella307307/true-realm-sub001/config"
	"github.com/daniella307307/true-realm-sub001/internal/logging"
)

var (
	cfgFile string
	envFile string

	// Set by loadConfig in PersistentPreRunE.
	cfg       *config.Config
	cfgViper  *viper.Viper
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "fieldsync",
	Short:         "Offline-first survey collection and sync",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"api":          "api.base_url",
	"user":         "auth.user_id",
	"token":        "auth.token",
	"jwt-secret":   "auth.jwt_secret",
	"db":           "store.path",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"addr":         "server.addr",
	"database-url": "server.database_url",
	"interval":     "sync.interval",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file with FIELDSYNC_* variables")
	pf.String("api", "", "backend base URL")
	pf.String("user", "", "signed-in user id")
	pf.String("token", "", "static bearer token")
	pf.String("jwt-secret", "", "shared secret for minting tokens")
	pf.String("db", "", "local SQLite file")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")
	pf.String("log-file", "", "write logs to a rotating file")

	rootCmd.AddCommand(agentCmd, syncCmd, statusCmd, draftsCmd, refdataCmd, serveCmd)
}

func loadConfig(cmd *cobra.Command) error {
	c, v, err := config.Load(config.LoadOptions{
		File:    cfgFile,
		EnvFile: envFile,
		Bind: func(v *viper.Viper) error {
			for name, key := range flagKeys {
				f := cmd.Flags().Lookup(name)
				if f == nil {
					f = cmd.Root().PersistentFlags().Lookup(name)
				}
				if f != nil {
					if err := v.BindPFlag(key, f); err != nil {
						return err
					}
				}
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	l, closer, err := logging.New(logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	cfg, cfgViper, logger, logCloser = c, v, l, closer
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
