package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"partysync/pkg/auth"
	"partysync/pkg/config"
	"partysync/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage session tokens",
	Long: `Manage the session tokens used to fetch your favorites.

Sessions belong to a site, a source at one host: kemono.su and kemono.party
each need their own. By default the configured base URL of the source picks
the host; --host picks another mirror.

Tokens are stored using:
  - System keychain (when available)
  - A session vault file, tokens sealed with a PBKDF2-derived key
  - Environment variables PARTYSYNC_<SOURCE>_SESSION (read only, any host)

Never share your session token or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login <source>",
	Short: "Store the session token of a source",
	Example: `  # Store the kemono session token
  partysync auth login kemono

  # Store the session of the fallback mirror
  partysync auth login kemono --host kemono.party`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <source>",
	Short: "Remove the stored session token of a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Long:  `List stored sessions with masked tokens.`,
	RunE:  runList,
}

var authHost string

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	for _, cmd := range []*cobra.Command{loginCmd, logoutCmd} {
		cmd.Flags().StringVar(&authHost, "host", "", "mirror host instead of the configured base URL")
	}
}

// siteFor resolves the site a login or logout of name applies to
func siteFor(cmd *cobra.Command, name string) (config.SourceConfig, auth.Site, error) {
	cfg, err := config.Load(configFile, globalFlags(cmd))
	if err != nil {
		return config.SourceConfig{}, auth.Site{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	source, ok := cfg.Source(strings.ToLower(name))
	if !ok {
		return config.SourceConfig{}, auth.Site{}, fmt.Errorf("unknown source %q", name)
	}
	baseURL := source.BaseURL
	if authHost != "" {
		baseURL = authHost
	}
	site, err := auth.NewSite(source.Name, baseURL)
	return source, site, err
}

func runLogin(cmd *cobra.Command, args []string) error {
	source, site, err := siteFor(cmd, args[0])
	if err != nil {
		ui.PrintError("Cannot log in", err)
		return err
	}

	manager, err := auth.NewManager("")
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err)
		return err
	}

	guideURL := source.BaseURL
	if authHost != "" {
		guideURL = "https://" + site.Host
	}
	fmt.Println(auth.SessionGuide(source.Name, guideURL))

	reader := bufio.NewReader(os.Stdin)
	if existing, _ := manager.Retrieve(site); existing != nil {
		fmt.Printf("A session for %s is already stored. Replace it? (y/N): ", site)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("session cookie value (hidden): ")
	token, err := readPassword(reader)
	fmt.Println()
	if err != nil {
		ui.PrintError("Failed to read session token", err)
		return err
	}
	if len(token) < 16 {
		err := errors.New("that does not look like a session cookie")
		ui.PrintError("Invalid session token", err)
		return err
	}

	account := &auth.Account{Site: site, SessionToken: token}
	if err := manager.Store(account); err != nil {
		ui.PrintError("Failed to store credentials", err)
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Session saved for %s (%s)", site, auth.SanitizeAccount(account).SessionToken))
	fmt.Printf("\nRun %s to mirror your favorites.\n", ui.Green("partysync sync"))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	_, site, err := siteFor(cmd, args[0])
	if err != nil {
		ui.PrintError("Cannot log out", err)
		return err
	}

	manager, err := auth.NewManager("")
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err)
		return err
	}

	if err := manager.Delete(site); err != nil {
		ui.PrintError("Failed to remove session", err)
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Session removed for %s", site))
	if os.Getenv(auth.EnvVar(site.Source)) != "" {
		ui.PrintWarning(fmt.Sprintf("%s is still set in the environment", auth.EnvVar(site.Source)))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err)
		return err
	}

	accounts, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list sessions", err)
		return err
	}
	if len(accounts) == 0 {
		ui.PrintWarning("No sessions stored")
		fmt.Println("\nStore one with: partysync auth login kemono")
		return nil
	}

	fmt.Println("\nStored sessions:")
	for _, account := range accounts {
		masked := auth.SanitizeAccount(account)
		where := masked.Key()
		if masked.Host == "" {
			where += " (environment)"
		}
		fmt.Printf("  %s %-24s %s  %s\n",
			ui.Green("•"),
			where,
			masked.SessionToken,
			ui.Dim("updated "+masked.LastModified.Format("2006-01-02 15:04")),
		)
	}
	return nil
}

// readPassword reads a line without echo when stdin is a terminal
func readPassword(fallback *bufio.Reader) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := fallback.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
