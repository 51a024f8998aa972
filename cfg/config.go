// Package cfg defines pintosim's configuration surface: scheduler policy,
// disk image layout, buffer-cache sizing, and logging, bound to command
// line flags the way gcsfuse's cfg package binds its own Config to
// pflag/viper.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one kernel boot.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Disk      DiskConfig      `yaml:"disk"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Debug     DebugConfig     `yaml:"debug"`
}

// SchedulerConfig selects the thread-scheduling policy, per spec.md §4.9:
// the boolean --mlfqs flag (shorthand -o) selects MLFQS; the default is
// priority-with-donation. -o takes no value, so "-o mlfqs" is rejected as
// an extra argument.
type SchedulerConfig struct {
	MLFQS bool `yaml:"mlfqs"`
}

// DiskConfig describes the two block devices booted by internal/kernel:
// the filesystem disk and the swap disk (spec.md §6).
type DiskConfig struct {
	FilesystemImage string `yaml:"filesystem-image"`
	FilesystemMB    int    `yaml:"filesystem-mb"`
	SwapImage       string `yaml:"swap-image"`
	SwapMB          int    `yaml:"swap-mb"`
	Format          bool   `yaml:"format"`
}

// CacheConfig sizes the buffer cache. NumLines is fixed by spec.md §4.1 at
// 64 and is not configurable; this only controls how often it is
// flushed in the background.
type CacheConfig struct {
	FlushIntervalMS int `yaml:"flush-interval-ms"`
}

// LoggingConfig drives internal/logger, mirroring gcsfuse's
// cfg.LoggingConfig: severity, output format, and an optional rotated log
// file.
type LoggingConfig struct {
	Severity string          `yaml:"severity"`
	Format   string          `yaml:"format"`
	FilePath string          `yaml:"file-path"`
	Rotate   LogRotateConfig `yaml:"log-rotate"`
}

// LogRotateConfig configures gopkg.in/natefinch/lumberjack.v2.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// DebugConfig controls fatal-assertion behavior, mirroring gcsfuse's
// DebugConfig.ExitOnInvariantViolation.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
}

// BindFlags registers every configuration field as a command-line flag and
// binds it into viper, the same wiring cmd/root.go does for gcsfuse's
// cfg.BindFlags.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.BoolP("mlfqs", "o", false, "Use the 4-level MLFQS scheduler instead of priority donation.")
	if err := viper.BindPFlag("scheduler.mlfqs", flagSet.Lookup("mlfqs")); err != nil {
		return err
	}

	flagSet.String("filesystem-image", "pintosim.fs.img", "Path to the filesystem disk image.")
	if err := viper.BindPFlag("disk.filesystem-image", flagSet.Lookup("filesystem-image")); err != nil {
		return err
	}

	flagSet.Int("filesystem-mb", 8, "Size of the filesystem disk image, in megabytes.")
	if err := viper.BindPFlag("disk.filesystem-mb", flagSet.Lookup("filesystem-mb")); err != nil {
		return err
	}

	flagSet.String("swap-image", "pintosim.swap.img", "Path to the swap disk image.")
	if err := viper.BindPFlag("disk.swap-image", flagSet.Lookup("swap-image")); err != nil {
		return err
	}

	flagSet.Int("swap-mb", 4, "Size of the swap disk image, in megabytes.")
	if err := viper.BindPFlag("disk.swap-mb", flagSet.Lookup("swap-mb")); err != nil {
		return err
	}

	flagSet.Bool("format", false, "Format the filesystem disk image before booting.")
	if err := viper.BindPFlag("disk.format", flagSet.Lookup("format")); err != nil {
		return err
	}

	flagSet.Int("cache-flush-interval-ms", 1000, "Interval between background buffer-cache flushes, in milliseconds.")
	if err := viper.BindPFlag("cache.flush-interval-ms", flagSet.Lookup("cache-flush-interval-ms")); err != nil {
		return err
	}

	flagSet.String("log-severity", "INFO", "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-format", "text", "Log output format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Path to a rotated log file; empty means stderr.")
	if err := viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.Bool("debug-invariants", false, "Exit the process when an internal invariant is violated.")
	if err := viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	return nil
}
