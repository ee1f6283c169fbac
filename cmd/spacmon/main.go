// spacmon monitors tracked SPAC entities for regulatory filings, price
// moves, and vote outcomes, validates the tracked data against a rule
// table, and raises chat alerts and review-queue items when something
// needs attention.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/medxprts/spacmon/pkg/agentreg"
	"github.com/medxprts/spacmon/pkg/agents"
	"github.com/medxprts/spacmon/pkg/alert"
	"github.com/medxprts/spacmon/pkg/chat"
	"github.com/medxprts/spacmon/pkg/cleanup"
	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/database"
	"github.com/medxprts/spacmon/pkg/digest"
	"github.com/medxprts/spacmon/pkg/entity"
	"github.com/medxprts/spacmon/pkg/filing"
	"github.com/medxprts/spacmon/pkg/fixapplier"
	"github.com/medxprts/spacmon/pkg/httpclient"
	"github.com/medxprts/spacmon/pkg/llm"
	"github.com/medxprts/spacmon/pkg/newsfeed"
	"github.com/medxprts/spacmon/pkg/priceindex"
	"github.com/medxprts/spacmon/pkg/reviewqueue"
	"github.com/medxprts/spacmon/pkg/scheduler"
	"github.com/medxprts/spacmon/pkg/selfimprove"
	"github.com/medxprts/spacmon/pkg/state"
	"github.com/medxprts/spacmon/pkg/validation"
	"github.com/medxprts/spacmon/pkg/workerpool"
)

// Exit codes per the external interface contract.
const (
	exitOK        = 0
	exitError     = 1
	exitUnhealthy = 2
)

var errUnhealthy = errors.New("spacmon: unhealthy service detected")

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// app bundles every constructed service so each CLI command can pick the
// pieces it needs without re-threading constructor arguments.
type app struct {
	cfg        *config.Config
	db         *database.Client
	entities   entity.Repository
	chatClient *chat.Client

	dispatcher *agentreg.Dispatcher
	research   agentreg.ResearchPort
	notify     agentreg.NotifyPort
	poller     *filing.Poller
	pool       *workerpool.Pool

	validator *validation.Engine
	reviews   *reviewqueue.Queue
	digestA   *digest.Agent
	sched     *scheduler.Scheduler
	cleaner   *cleanup.Service
	improver  *selfimprove.Recorder
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	continuous := flag.Bool("continuous", false, "Run the relevant loop continuously instead of a single pass")
	interval := flag.Int("interval", 0, "Tick interval in seconds for --continuous (overrides config default)")
	autoFix := flag.Bool("auto-fix", false, "Apply high-confidence auto-fixable validation issues immediately")
	onlyTicker := flag.String("ticker", "", "Restrict validate to a single ticker")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: spacmon <run|validate|monitor|test-chat> [flags]")
		os.Exit(exitError)
	}
	command := flag.Arg(0)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
	}

	ctx := context.Background()
	a, closeFn, err := bootstrap(ctx, *configDir)
	if err != nil {
		log.Printf("bootstrap failed: %v", err)
		os.Exit(exitError)
	}
	defer closeFn()

	var runErr error
	switch command {
	case "run":
		if *continuous {
			runErr = a.runContinuous(ctx, *interval)
		} else if healthErr := a.checkHealth(ctx); healthErr != nil {
			runErr = healthErr
		} else {
			runErr = a.sched.Tick(ctx)
		}
	case "validate":
		if healthErr := a.checkHealth(ctx); healthErr != nil {
			runErr = healthErr
		} else {
			runErr = a.runValidate(ctx, *autoFix, *onlyTicker)
		}
	case "monitor":
		if !*continuous {
			fmt.Fprintln(os.Stderr, "monitor requires --continuous")
			os.Exit(exitError)
		}
		runErr = a.runMonitorContinuous(ctx, *interval)
	case "test-chat":
		runErr = a.runTestChat(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(exitError)
	}

	if runErr != nil {
		if errors.Is(runErr, errUnhealthy) {
			log.Printf("unhealthy: %v", runErr)
			os.Exit(exitUnhealthy)
		}
		log.Printf("command %q failed: %v", command, runErr)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

// bootstrap wires every package built for this service, following the
// teacher's init order: config, database, then every service layered on
// top, narrow-port adapters last.
func bootstrap(ctx context.Context, configDir string) (*app, func(), error) {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing configuration: %w", err)
	}
	stats := cfg.Stats()
	log.Printf("loaded config: %d agents, %d llm providers", stats.Agents, stats.LLMProviders)

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("loading database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	closeFn := func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("error closing database client: %v", err)
		}
	}

	store := state.New(dbClient.DB)
	entities := entity.New(dbClient.DB)
	httpClient := httpclient.New(cfg.HTTPClient)

	var llmClient *llm.Client
	if provider, err := cfg.GetLLMProvider("default"); err == nil {
		if c, err := llm.NewClient("default", *provider); err != nil {
			log.Printf("warning: llm client unavailable: %v", err)
		} else {
			llmClient = c
		}
	}

	chatClient := chat.New(cfg.Chat, os.Getenv(cfg.Chat.TokenEnv))
	alerts := alert.New(chatClient, store, cfg.Defaults.AlertDedupCooldown)

	// MonitoredWriter wraps the scheduler's own bookkeeping writes (tick
	// timestamps, gate cursors) with failure logging and a critical-storm
	// alert, using the alert service just constructed above as the sink.
	monitoredStore := state.NewMonitoredWriter(store, dbClient.DB, alerts)

	feedTemplate := getEnv("FILING_FEED_URL_TEMPLATE",
		"https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&CIK=%s&type=8-K&output=atom")
	feedSource := filing.NewAtomFeedSource(httpClient, feedTemplate)
	poller := filing.New(feedSource, httpClient, store)

	registry := agentreg.NewRegistry()
	for _, fa := range []agentreg.FilingAgent{
		agents.DealDetector{},
		agents.ExtensionMonitor{},
		agents.RedemptionExtractor{},
		agents.CompletionMonitor{},
		agents.S4Processor{},
		agents.FilingProcessor{},
		agents.TrustAccountProcessor{},
		agents.IPODetector{},
		agents.DelistingDetector{},
	} {
		registry.RegisterFilingAgent(fa)
	}

	filingLogger := agentreg.NewPostgresFilingLogger(dbClient.DB)
	seenMarker := agentreg.NewStateSeenMarker(store, 200)
	research := agentreg.NewEntityResearch(entities, httpClient)
	notify := agentreg.NewAlertNotifier(alerts)
	pool := workerpool.New(cfg.WorkerPool)
	dispatcher := agentreg.NewDispatcher(registry, httpClient, llmClient, filingLogger, seenMarker, pool)

	// Wiring a real quote vendor is out of scope; NullPriceSource keeps
	// PriceMonitor safe to run (no quotes, no mutations) until one is
	// configured.
	priceMonitor := agents.PriceMonitor{Prices: priceindex.NullPriceSource{}, Repo: entities}
	voteTracker := agents.VoteTracker{Repo: entities}

	validator := validation.NewEngine(cfg.Defaults, nil)
	fixRegistry := fixapplier.NewRegistry()
	fixApplier := fixapplier.NewApplier(entities, fixRegistry)
	reviews := reviewqueue.New(dbClient.DB, fixApplier, llmClient)
	digestAgent := digest.New(dbClient.DB, alerts)
	triggers := newsfeed.NewManualTriggerSource()
	improver := selfimprove.New(dbClient.DB, cfg.Defaults, chatClient, llmClient)

	sched, err := scheduler.New(scheduler.Deps{
		Defaults:    cfg.Defaults,
		MarketHours: cfg.MarketHours,
		Store:       monitoredStore,
		Entities:    entities,
		Poller:      poller,
		Dispatcher:  dispatcher,
		Research:    research,
		Notify:      notify,
		Triggers:    triggers,
		Pool:        pool,
		LLMClient:   llmClient,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("constructing scheduler: %w", err)
	}
	sched.RegisterScheduledAgent(priceMonitor)
	sched.RegisterScheduledAgent(voteTracker)
	sched.RegisterGatedTask("validation_sweep", "daily_sweep", func(ctx context.Context) error {
		return runValidationSweep(ctx, validator, reviews, entities, fixApplier, improver, false, "")
	})
	sched.RegisterGatedTask("daily_digest", "daily_digest", func(ctx context.Context) error {
		return digestAgent.Run(ctx, research, notify)
	})

	cleaner := cleanup.NewService(cfg.Retention, entities, filingLogger, state.NewWriteFailureRetention(dbClient.DB))

	a := &app{
		cfg:        cfg,
		db:         dbClient,
		entities:   entities,
		chatClient: chatClient,
		dispatcher: dispatcher,
		research:   research,
		notify:     notify,
		poller:     poller,
		pool:       pool,
		validator:  validator,
		reviews:    reviews,
		digestA:    digestAgent,
		sched:      sched,
		cleaner:    cleaner,
		improver:   improver,
	}
	return a, closeFn, nil
}

// checkHealth verifies the database is reachable before a one-shot command
// does real work, surfacing exitUnhealthy rather than a generic failure
// when the problem is connectivity rather than the command itself.
func (a *app) checkHealth(ctx context.Context) error {
	status, err := database.Health(ctx, a.db.DB.DB)
	if err != nil || status == nil || status.Status != "healthy" {
		return fmt.Errorf("%w: database: %v", errUnhealthy, err)
	}
	return nil
}

// runContinuous blocks running the scheduler's control loop, with a small
// Gin health endpoint alongside it for introspection.
func (a *app) runContinuous(ctx context.Context, intervalSeconds int) error {
	go a.serveHealth()

	if intervalSeconds > 0 {
		a.cfg.Defaults.SchedulerTickInterval = time.Duration(intervalSeconds) * time.Second
	}
	a.pool.Start(ctx)
	defer a.pool.Stop()
	a.cleaner.Start(ctx)
	defer a.cleaner.Stop()
	return a.sched.Run(ctx)
}

// runMonitorContinuous runs only the filing-poll path on a loop, the same
// logic the integrated scheduler uses, for operators who want filing
// polling isolated from price/vote/validation agents.
func (a *app) runMonitorContinuous(ctx context.Context, intervalSeconds int) error {
	go a.serveHealth()

	interval := a.cfg.Defaults.FilingPollInterval
	if intervalSeconds > 0 {
		interval = time.Duration(intervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.pollOnce(ctx); err != nil {
			log.Printf("filing poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) pollOnce(ctx context.Context) error {
	tracked, err := a.entities.ListByStatus(ctx,
		entity.StatusSearching, entity.StatusAnnounced, entity.StatusCompleted)
	if err != nil {
		return fmt.Errorf("listing tracked entities: %w", err)
	}
	identifiers := make(map[string]string, len(tracked))
	for _, e := range tracked {
		identifiers[e.Ticker] = e.CIK
	}

	events, errs := a.poller.PollAll(ctx, identifiers)
	for _, pollErr := range errs {
		log.Printf("poll error: %v", pollErr)
	}
	for _, ev := range events {
		a.dispatcher.Dispatch(ctx, a.research, a.notify, agentreg.Filing{Event: ev})
	}
	return nil
}

// runValidate runs the validation engine once over either every tracked
// entity or a single ticker, queueing issues for review and optionally
// applying high-confidence auto-fixes immediately.
func (a *app) runValidate(ctx context.Context, autoFix bool, onlyTicker string) error {
	fixRegistry := fixapplier.NewRegistry()
	fixApplier := fixapplier.NewApplier(a.entities, fixRegistry)
	return runValidationSweep(ctx, a.validator, a.reviews, a.entities, fixApplier, a.improver, autoFix, onlyTicker)
}

func runValidationSweep(ctx context.Context, engine *validation.Engine, reviews *reviewqueue.Queue,
	entities entity.Repository, fixApplier *fixapplier.Applier, improver *selfimprove.Recorder, autoFix bool, onlyTicker string) error {

	var tracked []*entity.Entity
	var err error
	if onlyTicker != "" {
		e, lookupErr := entities.ByTicker(ctx, onlyTicker)
		if lookupErr != nil {
			return fmt.Errorf("looking up ticker %s: %w", onlyTicker, lookupErr)
		}
		tracked = []*entity.Entity{e}
	} else {
		tracked, err = entities.ListByStatus(ctx,
			entity.StatusSearching, entity.StatusAnnounced, entity.StatusCompleted,
			entity.StatusLiquidated, entity.StatusDelisted)
		if err != nil {
			return fmt.Errorf("listing entities for validation: %w", err)
		}
	}

	issues, patterns := engine.RunAll(ctx, tracked)
	log.Printf("validation sweep: %d entities, %d issues, %d recurring patterns", len(tracked), len(issues), len(patterns))

	var autoFixable, queued []validation.Issue
	for _, issue := range issues {
		if autoFix && issue.Confidence == validation.ConfidenceHigh && issue.AutoFixTag != "" {
			autoFixable = append(autoFixable, issue)
			continue
		}
		queued = append(queued, issue)
	}

	if len(queued) > 0 {
		if err := reviews.Create(ctx, queued, "validation_sweep"); err != nil {
			return fmt.Errorf("queuing validation issues: %w", err)
		}
	}

	for _, issue := range autoFixable {
		if err := fixApplier.Apply(ctx, issue.Ticker, issue.RuleCode, issue.AutoFixTag); err != nil {
			log.Printf("auto-fix failed for %s/%s: %v", issue.Ticker, issue.RuleCode, err)
		}
	}

	if improver != nil {
		for _, pattern := range patterns {
			if err := improver.RecordOccurrence(ctx, pattern.RuleCode); err != nil {
				log.Printf("recording learning record occurrence for %s failed: %v", pattern.RuleCode, err)
			}
		}
	}

	return nil
}

// runTestChat sends a canned message through the configured chat
// transport, useful for verifying credentials and channel configuration.
func (a *app) runTestChat(ctx context.Context) error {
	if a.chatClient == nil {
		return fmt.Errorf("chat is not configured (disabled or missing token/channel)")
	}
	if err := a.chatClient.Send(ctx, "spacmon: test message from test-chat"); err != nil {
		return fmt.Errorf("sending test chat message: %w", err)
	}
	log.Println("test chat message sent")
	return nil
}

// serveHealth exposes a minimal health endpoint for the continuous
// commands, reporting database reachability and configuration stats.
func (a *app) serveHealth() {
	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.New()
	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, a.db.DB.DB)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": dbHealth,
			"config":   a.cfg.Stats(),
		})
	})

	port := getEnv("HTTP_PORT", "8080")
	slog.Info("health endpoint listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Printf("health server stopped: %v", err)
	}
}
