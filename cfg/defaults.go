package cfg

// Default returns a Config populated with the same defaults BindFlags
// registers, for use by tests and by callers that boot the kernel without
// going through the cobra/viper CLI path.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{MLFQS: false},
		Disk: DiskConfig{
			FilesystemImage: "pintosim.fs.img",
			FilesystemMB:    8,
			SwapImage:       "pintosim.swap.img",
			SwapMB:          4,
		},
		Cache: CacheConfig{FlushIntervalMS: 1000},
		Logging: LoggingConfig{
			Severity: "INFO",
			Format:   "text",
			Rotate: LogRotateConfig{
				MaxFileSizeMB:   100,
				BackupFileCount: 3,
			},
		},
	}
}
