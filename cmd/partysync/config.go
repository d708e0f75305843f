package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"partysync/pkg/auth"
	"partysync/pkg/config"
	"partysync/pkg/ui"
)

var forceInit bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage partysync configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (PARTYSYNC_*)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the defaults",
	Long: `Create a configuration file holding every option at its default value.

The file is written to ./partysync.yaml unless --config names another path.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the effective configuration and report which sources have a
session token available.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)

	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "partysync.yaml"
	}
	if _, err := os.Stat(path); err == nil && !forceInit {
		err := fmt.Errorf("%s already exists, pass --force to overwrite", path)
		ui.PrintError("Refusing to overwrite configuration", err)
		return err
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(path); err != nil {
		ui.PrintError("Failed to create configuration file", err)
		return err
	}

	abs, _ := filepath.Abs(path)
	ui.PrintSuccess("Configuration file created: " + abs)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set storage.root and the disk quota in the file")
	fmt.Println("2. Run 'partysync auth login kemono' to store your session")
	fmt.Println("3. Run 'partysync sync'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err)
		return err
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (PARTYSYNC_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags(cmd))
	if err != nil {
		ui.PrintError("Configuration validation failed", err)
		return err
	}

	var warnings []string
	if cfg.Storage.DiskQuotaMB == 0 {
		warnings = append(warnings, "no disk quota set, the storage root may grow without bound")
	}
	if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
		warnings = append(warnings, fmt.Sprintf("cannot create storage root: %v", err))
	}

	creds, err := auth.NewManager("")
	if err != nil {
		creds = auth.NewManagerWithStores(auth.NewEnvironmentStore())
	}
	for _, src := range cfg.EnabledSources() {
		site, err := auth.NewSite(src.Name, src.BaseURL)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		if creds.SessionToken(site) == "" {
			warnings = append(warnings, fmt.Sprintf("no session for %s, favorites sync will skip it", site))
		}
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, warn := range warnings {
			fmt.Printf("  - %s\n", warn)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Storage root: %s\n", cfg.Storage.Root)
	for _, src := range cfg.EnabledSources() {
		fmt.Printf("  Source: %s (%s)\n", src.Name, src.BaseURL)
	}
	if cfg.Storage.PostLimitPerCreator > 0 {
		fmt.Printf("  Post limit: %d per creator\n", cfg.Storage.PostLimitPerCreator)
	}
	if cfg.Storage.DiskQuotaMB > 0 {
		fmt.Printf("  Disk quota: %s\n", ui.FormatBytes(cfg.Storage.QuotaBytes()))
	}
	fmt.Printf("  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
	fmt.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Max attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
