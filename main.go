package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"listing-automation/browser"
	"listing-automation/captcha"
	"listing-automation/config"
	"listing-automation/console"
	"listing-automation/logger"
	"listing-automation/ratelimit"
	"listing-automation/records"
	"listing-automation/renamer"
	"listing-automation/stealth"
	"listing-automation/uploader"
	"listing-automation/workflow"
)

var (
	configFile string
	verbose    bool
)

// botFactory builds a bot and loads the entities it processes.
type botFactory func(ctx context.Context, a *app, c *console.Console) (workflow.Bot[console.Session], []workflow.Entity, error)

var bots = map[string]botFactory{
	renamer.Name:  newRenamer,
	uploader.Name: newUploader,
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "listing-automation <bot> [key=value ...]",
		Short: "Business listing browser automation",
		Long: `Runs a listing bot over every new record in the store. key=value arguments
override configuration keys, e.g. captcha.max_retries=5 browser.headless=false.`,
		Args:          cobra.ArbitraryArgs,
		RunE:          runBot,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config/config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(createStatusCmd())
	rootCmd.AddCommand(createImportCmd())
	rootCmd.AddCommand(createCodeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status and statistics",
		Long:  `Display today's outcomes and the record counts per status.`,
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func createImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "import <credentials|businesses> <file.csv>",
		Short:     "Import records from a CSV file",
		Long:      `Seed the record store. The CSV header names the columns; unknown columns are ignored.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{records.KindCredentials, records.KindBusinesses},
		RunE:      runImport,
	}
}

func createCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "code <business-id> <code> [phone]",
		Short: "Deliver a verification code",
		Long:  `Store a phone verification code for a business. The renamer picks it up while it waits.`,
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runCode,
	}
}

// parseBotArgs splits the command line into the bot name and configuration
// overrides. Arguments without "=" are ignored.
func parseBotArgs(args []string) (string, map[string]string) {
	if len(args) == 0 {
		return "", nil
	}

	overrides := make(map[string]string)
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		overrides[key] = strings.TrimSpace(value)
	}
	return args[0], overrides
}

func botNames() []string {
	names := make([]string, 0, len(bots))
	for name := range bots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// app holds what every command shares.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *records.Database
}

func setup(overrides map[string]string) (*app, error) {
	cfg, err := config.LoadConfig(configFile, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output,
		cfg.Logging.MaxSize, cfg.Logging.MaxBackups, cfg.Logging.MaxAge); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	if verbose {
		logger.SetVerbose()
	}
	log := logger.GetLogger()

	db, err := records.NewDatabase(cfg.Storage.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &app{cfg: cfg, logger: log, db: db}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}

func (a *app) console() *console.Console {
	client := captcha.NewClient(captcha.ClientConfig{
		Endpoint:      a.cfg.Captcha.Endpoint,
		Username:      a.cfg.Captcha.Username,
		Password:      a.cfg.Captcha.Password,
		DecodeTimeout: a.cfg.Captcha.DecodeTimeout,
		PollInterval:  a.cfg.Captcha.PollInterval,
	}, a.logger)

	return console.NewConsole(console.Config{
		LoginURL:     a.cfg.Console.LoginURL,
		LocationsURL: a.cfg.Console.LocationsURL,
		AccountURL:   a.cfg.Console.AccountURL,
		MaxPageSize:  a.cfg.Console.MaxPageSize,
		ImageDir:     a.cfg.Captcha.ImageDir,
		Settle:       a.cfg.Timing.PageSettle,
	}, captcha.NewResolver(client, a.cfg.Captcha.MaxRetries, a.logger), a.logger)
}

// openSession launches one browser per run, named after the run id.
func (a *app) openSession() workflow.OpenFunc[console.Session] {
	stealthManager := stealth.NewStealthManager(stealth.StealthConfig{
		Enabled:      a.cfg.Stealth.Enabled,
		MinDelay:     a.cfg.Stealth.MinDelay,
		MaxDelay:     a.cfg.Stealth.MaxDelay,
		TypeMinDelay: a.cfg.Stealth.TypeMinDelay,
		TypeMaxDelay: a.cfg.Stealth.TypeMaxDelay,
	}, a.logger)

	sessions := browser.NewSessionManager(browser.SessionConfig{
		Headless:        a.cfg.Browser.Headless,
		SlowMo:          a.cfg.Browser.SlowMo,
		UserAgent:       a.cfg.Browser.UserAgent,
		ExecutablePath:  a.cfg.Browser.ExecutablePath,
		DataDir:         a.cfg.Browser.DataDir,
		DebugDir:        a.cfg.Browser.DebugDir,
		ElementTimeout:  a.cfg.Timing.ElementTimeout,
		PageLoadTimeout: a.cfg.Timing.PageLoadTimeout,
		SpawnSettle:     a.cfg.Timing.SpawnSettle,
	}, stealthManager, a.logger)

	viewport := browser.Viewport{Width: a.cfg.Browser.ViewportWidth, Height: a.cfg.Browser.ViewportHeight}

	return func(ctx context.Context, run *workflow.Run) (console.Session, error) {
		s, err := sessions.Open(ctx, run.ID.String(), viewport)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func newRenamer(ctx context.Context, a *app, c *console.Console) (workflow.Bot[console.Session], []workflow.Entity, error) {
	businesses, err := a.db.Businesses(ctx, records.StatusNew)
	if err != nil {
		return nil, nil, err
	}
	entities := make([]workflow.Entity, len(businesses))
	for i, b := range businesses {
		entities[i] = b
	}

	bot := renamer.NewRenamer(renamer.Config{
		CodeRetries:      a.cfg.Timing.CodePollRetries,
		CodePollInterval: a.cfg.Timing.CodePollInterval,
		CodeSendDwell:    a.cfg.Timing.CodeSendDwell,
		CodeSettle:       a.cfg.Timing.PageSettle,
		Settle:           a.cfg.Timing.PageSettle,
	}, c, a.db, a.logger)
	return bot, entities, nil
}

func newUploader(ctx context.Context, a *app, c *console.Console) (workflow.Bot[console.Session], []workflow.Entity, error) {
	credentials, err := a.db.Credentials(ctx, records.StatusNew)
	if err != nil {
		return nil, nil, err
	}
	entities := make([]workflow.Entity, len(credentials))
	for i, cred := range credentials {
		entities[i] = cred
	}

	bot := uploader.NewUploader(uploader.Config{Settle: a.cfg.Timing.PageSettle}, c, a.db, a.logger)
	return bot, entities, nil
}

// Command runners

func runBot(cmd *cobra.Command, args []string) error {
	name, overrides := parseBotArgs(args)
	if name == "" {
		return cmd.Help()
	}

	factory, ok := bots[name]
	if !ok {
		return fmt.Errorf("unknown bot %q, available: %s", name, strings.Join(botNames(), ", "))
	}

	a, err := setup(overrides)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		MinDelay:       a.cfg.Limits.MinDelay,
		EntityDelay:    a.cfg.Limits.EntityDelay,
		LoginDelay:     a.cfg.Limits.LoginDelay,
		DailyEntities:  a.cfg.Limits.DailyEntities,
		HourlyEntities: a.cfg.Limits.HourlyEntities,
		RandomizeDelay: a.cfg.Limits.JitterPercent > 0,
		JitterPercent:  a.cfg.Limits.JitterPercent,
	}, a.logger)

	c := a.console()
	c.SetLoginPacer(func(ctx context.Context) error {
		return limiter.WaitForPermission(ctx, ratelimit.ActionLogin)
	})

	bot, entities, err := factory(ctx, a, c)
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}
	if len(entities) == 0 {
		a.logger.WithField("bot", name).Info("Nothing to process")
		return nil
	}

	pipeline := workflow.NewPipeline[console.Session](bot, a.openSession(), a.logger)
	pipeline.SetSnapshotTimeout(a.cfg.Timing.SnapshotTimeout)

	summary, err := workflow.NewRunner(pipeline, limiter.Pace, a.logger).Run(ctx, entities)
	a.logger.WithFields(logrus.Fields(limiter.GetStats())).Debug("Rate limiter stats")

	fmt.Printf("%s processed %d of %d entities\n", name, len(summary.Reports), len(entities))
	for _, outcome := range []workflow.Outcome{
		workflow.OutcomeSuccess, workflow.OutcomePending, workflow.OutcomeFailure,
		workflow.OutcomeInvalid, workflow.OutcomeSkipped, workflow.OutcomeUnclassified,
	} {
		if n := summary.Counts[outcome]; n > 0 {
			fmt.Printf("  %s: %d\n", outcome, n)
		}
	}

	if ctx.Err() != nil {
		a.logger.Warn("Run terminated by user")
		return nil
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := setup(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()

	stats, err := a.db.GetDailyStats(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to get daily stats: %w", err)
	}
	credentials, err := a.db.StatusCounts(ctx, records.KindCredentials)
	if err != nil {
		return err
	}
	businesses, err := a.db.StatusCounts(ctx, records.KindBusinesses)
	if err != nil {
		return err
	}

	// Display status
	fmt.Printf("Listing Automation Status\n")
	fmt.Printf("=========================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Config file: %s\n", configFile)
	fmt.Printf("  Database: %s\n", a.cfg.Storage.Path)
	fmt.Printf("  Headless: %v\n", a.cfg.Browser.Headless)
	fmt.Printf("\n")
	fmt.Printf("Today's outcomes:\n")
	fmt.Printf("  Success: %d\n", stats[records.StatusSuccess])
	fmt.Printf("  Pending: %d\n", stats[records.StatusPending])
	fmt.Printf("  Failed: %d\n", stats[records.StatusFail])
	fmt.Printf("\n")
	printCounts("Credentials", credentials)
	printCounts("Businesses", businesses)
	fmt.Printf("Limits:\n")
	fmt.Printf("  Daily entities: %d/%d\n", stats[records.StatusSuccess]+stats[records.StatusPending]+stats[records.StatusFail], a.cfg.Limits.DailyEntities)

	return nil
}

func printCounts(title string, counts map[string]int) {
	fmt.Printf("%s:\n", title)
	for _, status := range []string{records.StatusNew, records.StatusSuccess, records.StatusPending, records.StatusFail} {
		fmt.Printf("  %s: %d\n", status, counts[status])
	}
	fmt.Printf("\n")
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := setup(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	n, err := a.db.ImportCSV(context.Background(), args[0], f)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d %s from %s\n", n, args[0], args[1])
	return nil
}

func runCode(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid business id %q: %w", args[0], err)
	}
	code := strings.TrimSpace(args[1])
	if code == "" {
		return fmt.Errorf("empty code")
	}
	var phone string
	if len(args) == 3 {
		phone = console.PhoneClean(args[2])
	}

	a, err := setup(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.SaveCode(context.Background(), id, phone, code); err != nil {
		return err
	}

	fmt.Printf("Code stored for business %d\n", id)
	return nil
}
