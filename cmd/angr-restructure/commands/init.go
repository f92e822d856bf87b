package commands

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/harry1080/angr/internal/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long: `Guides you through setting up angr-restructure configuration step by
step and writes a project-level config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func runInit() error {
	cfg := config.DefaultConfig()

	logLevel := cfg.LogLevel
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Description("Minimum severity written to stderr").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&logLevel),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}
	cfg.LogLevel = logLevel

	format := string(cfg.Format)
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Output format").
				Description("How structured trees are printed on stdout").
				Options(
					huh.NewOption("Pseudo code (text)", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&format),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}
	cfg.Format = config.OutputFormat(format)

	cacheEnabled := cfg.CacheEnabled
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the result cache?").
				Description("Memoizes structuring output keyed by input digest").
				Value(&cacheEnabled),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}
	cfg.CacheEnabled = cacheEnabled

	if cacheEnabled {
		cacheDir := cfg.CacheDir
		maxEntries := strconv.Itoa(cfg.CacheMaxEntries)
		form = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Cache directory").
					Placeholder("~/.angr-restructure/cache").
					Value(&cacheDir),
				huh.NewInput().
					Title("Maximum cached results").
					Placeholder("256").
					Value(&maxEntries).
					Validate(func(s string) error {
						n, err := strconv.Atoi(s)
						if err != nil || n <= 0 {
							return fmt.Errorf("enter a positive number")
						}
						return nil
					}),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		cfg.CacheDir = cacheDir
		if n, err := strconv.Atoi(maxEntries); err == nil {
			cfg.CacheMaxEntries = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	path := ".angr-restructure.yaml"
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
