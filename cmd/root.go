// Package cmd implements pintosim's command-line entry point: a single
// cobra root command that boots the kernel, runs until interrupted, and
// shuts down cleanly, the same top-level shape gcsfuse's own
// cmd/root.go gives its mount command.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mlj-hub/pintosim/cfg"
	"github.com/mlj-hub/pintosim/internal/kernel"
	"github.com/mlj-hub/pintosim/internal/logger"
)

var (
	cfgFile      string
	bindErr      error
	unmarshalErr error

	// BootConfig is the fully resolved configuration for this process,
	// populated from flags and (optionally) a config file by initConfig.
	BootConfig = cfg.Default()
)

var rootCmd = &cobra.Command{
	Use:   "pintosim",
	Short: "Run the pintosim kernel simulator against a disk image",
	Long: `pintosim boots a simulated priority/MLFQS thread scheduler, demand-paged
virtual memory subsystem, and on-disk filesystem against a pair of disk
images, then idles until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return run(BootConfig)
	},
}

func run(c cfg.Config) error {
	k, err := kernel.Boot(c)
	if err != nil {
		return fmt.Errorf("booting kernel: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	logger.Infof("kernel: running, press Ctrl-C to shut down")
	<-sig

	return k.Shutdown()
}

// Execute runs the root command, exiting the process with status 1 on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			unmarshalErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&BootConfig, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
}
