package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"partysync/internal/downloader"
	"partysync/pkg/auth"
	"partysync/pkg/config"
	"partysync/pkg/kemono"
	"partysync/pkg/logger"
	"partysync/pkg/quota"
	"partysync/pkg/ratelimit"
	"partysync/pkg/retry"
	"partysync/pkg/storage"
	"partysync/pkg/syncer"
	"partysync/pkg/ui"
)

var (
	// Sync command flags
	creatorRefs   []string
	sourceNames   []string
	storageRoot   string
	postLimit     int
	diskQuotaMB   float64
	perPostFolder bool
	concurrent    int
	rateLimit     int
	maxAttempts   int
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror new posts of your favorite creators",
	Long: `Mirror new posts of your favorited creators onto the storage root.

Only creators whose "updated" marker changed since the last run are visited,
and inside a creator only posts not yet recorded in downloaded_posts.json are
downloaded. Use --creator to sync specific creators regardless of favorites.

The favorites roster needs a session token, see 'partysync auth login'.

Press Ctrl+C to stop: the current post finishes and progress is saved.`,
	Example: `  # Sync favorites of every enabled source
  partysync sync

  # Sync one creator by URL, no session needed
  partysync sync --creator https://kemono.su/patreon/user/12345

  # Sync creators on coomer given as service:id
  partysync sync --source coomer --creator onlyfans:someone --creator fansly:other

  # Limit disk usage and keep only the newest 20 posts per creator
  partysync sync --quota-mb 50000 --post-limit 20`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringArrayVar(&creatorRefs, "creator", nil, "creator URL or service:id to sync instead of favorites (repeatable)")
	syncCmd.Flags().StringSliceVar(&sourceNames, "source", nil, "sources to sync (default: enabled sources)")
	syncCmd.Flags().StringVarP(&storageRoot, "root", "o", "", "storage root directory")
	syncCmd.Flags().IntVar(&postLimit, "post-limit", 0, "newest posts to consider per creator (0 = unlimited)")
	syncCmd.Flags().Float64Var(&diskQuotaMB, "quota-mb", 0, "disk quota for the storage root in MB (0 = unlimited)")
	syncCmd.Flags().BoolVar(&perPostFolder, "per-post-folder", true, "create one folder per post")
	syncCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	syncCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "API requests per minute")
	syncCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts per request before giving up")
}

func syncFlags(cmd *cobra.Command) map[string]interface{} {
	flags := globalFlags(cmd)
	changed := cmd.Flags().Changed

	if changed("root") {
		flags["storage-root"] = storageRoot
	}
	if changed("post-limit") {
		flags["post-limit"] = postLimit
	}
	if changed("quota-mb") {
		flags["disk-quota-mb"] = diskQuotaMB
	}
	if changed("per-post-folder") {
		flags["per-post-folder"] = perPostFolder
	}
	if changed("concurrent") {
		flags["concurrent-downloads"] = concurrent
	}
	if changed("rate-limit") {
		flags["requests-per-minute"] = rateLimit
	}
	if changed("max-attempts") {
		flags["max-attempts"] = maxAttempts
	}
	// with --creator, --source only picks the owner of service:id refs
	if changed("source") && len(creatorRefs) == 0 {
		flags["sources"] = sourceNames
	}
	return flags
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, syncFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err)
		return err
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("partysync starting")

	defaultSource := ""
	if len(sourceNames) > 0 {
		defaultSource = sourceNames[0]
	}
	plans, err := planRuns(cfg, creatorRefs, defaultSource)
	if err != nil {
		ui.PrintError("Nothing to sync", err)
		return err
	}

	store, err := storage.NewManager(cfg.Storage.Root)
	if err != nil {
		ui.PrintError("Failed to prepare storage root", err)
		return err
	}
	guard, err := quota.NewGuard(cfg.Storage.Root, cfg.Storage.QuotaBytes(), log)
	if err != nil {
		ui.PrintError("Failed to measure disk usage", err)
		return err
	}

	creds, err := auth.NewManager("")
	if err != nil {
		log.WithError(err).Warn("Credential store unavailable, using environment only")
		creds = auth.NewManagerWithStores(auth.NewEnvironmentStore())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := ui.NewNotifier(cfg.Notifications.Enabled)
	progress := ui.NewProgressDisplay(os.Stdout, strings.EqualFold(cfg.Logging.Level, "debug"))
	policy := downloader.PolicyFromConfig(cfg.Download)

	var (
		total    syncer.Summary
		failures []string
	)
	for _, plan := range plans {
		if ctx.Err() != nil {
			break
		}

		var session string
		if site, err := auth.NewSite(plan.Source.Name, plan.Source.BaseURL); err == nil {
			session = creds.SessionToken(site)
		}
		if session == "" && !plan.Manual {
			ui.PrintWarning(fmt.Sprintf("Skipping %s: no session token", plan.Source.Name))
			ui.PrintInfo("Store one with", "partysync auth login "+plan.Source.Name)
			log.WithField("source", plan.Source.Name).Warn("No session token, favorites cannot be fetched")
			continue
		}

		ui.PrintHighlight(fmt.Sprintf("\n[%s] %s", strings.ToUpper(plan.Source.Name), plan.Source.BaseURL))

		client := kemono.NewClient(kemono.Options{
			Source:          plan.Source.Name,
			BaseURL:         plan.Source.BaseURL,
			FallbackBaseURL: plan.Source.FallbackBaseURL,
			Timeout:         cfg.Download.Timeout,
			UserAgent:       cfg.Download.UserAgent,
			Session:         session,
			Limiter:         ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute),
			Retry:           retry.FromConfig(cfg.Retry, log),
			Failures:        store.ErrorLog(),
			Logger:          log,
		})

		pool := downloader.NewWorkerPool(cfg.Download.ConcurrentDownloads, client, guard, policy, log)
		pool.Start()

		driver, err := syncer.New(cfg, client, pool, store, guard, log)
		if err != nil {
			pool.Stop()
			ui.PrintError("Failed to start sync", err)
			failures = append(failures, plan.Source.Name)
			continue
		}
		driver.SetProgress(progress)

		sum, err := driver.Run(ctx, plan.Selection)
		pool.Stop()
		mergeSummary(&total, sum)

		if errors.Is(err, syncer.ErrQuotaExceeded) {
			quotaExit(cfg, guard, notifier)
		}
		if err != nil {
			log.WithError(err).WithField("source", plan.Source.Name).Error("Sync failed")
			ui.PrintError(fmt.Sprintf("Sync of %s failed", plan.Source.Name), err)
			failures = append(failures, plan.Source.Name)
		}
		if sum != nil && sum.Interrupted {
			break
		}
	}

	report(cfg, notifier, total, failures, store.ErrorLog().Path())
	return nil
}

func mergeSummary(total *syncer.Summary, sum *syncer.Summary) {
	if sum == nil {
		return
	}
	total.Creators += sum.Creators
	total.FailedCreators += sum.FailedCreators
	total.PostsDone += sum.PostsDone
	total.PostsSkipped += sum.PostsSkipped
	total.PostsFailed += sum.PostsFailed
	total.Files += sum.Files
	total.Bytes += sum.Bytes
	total.Interrupted = total.Interrupted || sum.Interrupted
	total.Duration += sum.Duration
}

func report(cfg *config.Config, notifier *ui.Notifier, total syncer.Summary, failures []string, errorLog string) {
	if total.Interrupted {
		ui.PrintWarning("\nInterrupted, progress was saved")
	}

	message := fmt.Sprintf("%d creators, %d new posts, %s", total.Creators, total.PostsDone, ui.FormatBytes(total.Bytes))
	hadErrors := len(failures) > 0 || total.PostsFailed > 0 || total.FailedCreators > 0

	if hadErrors {
		ui.PrintInfo("Failures logged to", errorLog)
		if cfg.Notifications.OnError {
			notifier.SendError("Sync finished with errors", message)
		}
		return
	}
	if cfg.Notifications.OnComplete {
		notifier.SendSuccess("Sync complete", message)
	}
}

// quotaExit ends the process after the grace delay
func quotaExit(cfg *config.Config, guard *quota.Guard, notifier *ui.Notifier) {
	msg := fmt.Sprintf("%s of %s used", ui.FormatBytes(guard.Usage()), ui.FormatBytes(guard.Ceiling()))
	logger.GetLogger().WithFields(map[string]interface{}{
		"usage_bytes":   guard.Usage(),
		"ceiling_bytes": guard.Ceiling(),
		"grace_delay":   cfg.Storage.QuotaGraceDelay.String(),
	}).Error("Disk quota exceeded, stopping")

	if cfg.Notifications.OnError {
		notifier.SendError("Disk quota exceeded", msg)
	} else {
		ui.PrintError("Disk quota exceeded", msg)
	}
	ui.PrintWarning(fmt.Sprintf("Exiting in %s", cfg.Storage.QuotaGraceDelay))

	time.Sleep(cfg.Storage.QuotaGraceDelay)
	os.Exit(1)
}
