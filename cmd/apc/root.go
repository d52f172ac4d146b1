// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apc-dev/apc/internal/config"
	"github.com/apc-dev/apc/internal/supervisor"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// appViper holds the configuration resolved for the running command.
var appViper = viper.New()

// NewRootCmd creates the root apc command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "apc",
		Short:         "apc supervises the connection to a workspace daemon",
		Long:          "apc discovers a workspace's daemon, keeps a health-checked connection to it, and reports a single readiness phase.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}
			setupLogging(cmd)
			return nil
		},
	}

	// Global flags; these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().StringP("workspace", "w", "", "workspace path (default: current directory)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newStatusCmd(),
		newWatchCmd(),
		newReconnectCmd(),
		newDiscoveryCmd(),
		newDevdCmd(),
		newDoctorCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up a fresh Viper with defaults, env bindings, flag bindings,
// and an optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.New()
	appViper = v

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return apcerr.Errorf(apcerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is omitted so viper does not try the bare name,
		// which would collide with an ./apc binary.
		v.SetConfigName("apc")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/apc")
		// No config file is fine; parse or permission errors must surface.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return apcerr.Errorf(apcerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	if err := v.BindPFlag("workspace", cmd.Root().PersistentFlags().Lookup("workspace")); err != nil {
		return apcerr.Errorf(apcerr.CodeCLISetupFailure, "binding workspace flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return apcerr.Errorf(apcerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if appViper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig decodes the configuration resolved by initViper.
func loadConfig() (*config.Config, error) {
	return config.FromViper(appViper)
}

// openSupervisor builds a supervisor from the resolved configuration. The
// caller must Close it.
func openSupervisor() (*supervisor.Supervisor, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	config.WarnInsecureDiscoveryDir(cfg.Discovery.Dir)

	sup, err := supervisor.New(cfg, supervisor.Options{})
	if err != nil {
		return nil, nil, apcerr.Wrap(err, apcerr.CodeCLISetupFailure, "creating supervisor")
	}
	return sup, cfg, nil
}
