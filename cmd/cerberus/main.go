package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/Wikid82/cerberus/internal/bootstrap"
	"github.com/Wikid82/cerberus/internal/config"
	"github.com/Wikid82/cerberus/internal/database"
	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/rulesets"
	"github.com/Wikid82/cerberus/internal/services"
	"github.com/Wikid82/cerberus/internal/version"
)

const usage = `usage: cerberus <command> [args]

commands:
  migrate                 create or update the rule store tables
  seed [rules.yaml]       insert the default (or given) rule set, keeping existing rules
  validate [request.json] evaluate one request (stdin when no file) and print the verdict
  login [attempt.json]    feed one login attempt (stdin when no file) and print the events
  mode <off|detect|block> store the enforcement mode override
  block <ip|cidr> [dur]   block an address or range (permanent without a duration)
  unblock <ip|cidr>       remove a block
  events [limit]          print the most recent unresolved threat events
  resolve <event-id>      mark a threat event resolved
  stats                   print threat event statistics
  waf-stats               print signature rule and WAF violation statistics
  waf-events [cat] [lim]  print recent WAF violations, optionally for one category
  audit [limit]           print the administrative audit trail
  sweep                   remove expired blocks and old events once
  run                     run the background jobs until interrupted
  version                 print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	if cmd == "version" {
		fmt.Println(version.Banner())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	setupLogging(cfg)

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "migrate":
		logger.Log().WithField("path", cfg.DatabasePath).Info("Database migrated")
	case "seed":
		err = seed(ctx, db, args)
	case "validate":
		err = validate(ctx, cfg, db, args)
	case "login":
		err = login(ctx, cfg, db, args)
	case "mode":
		err = setMode(ctx, db, args)
	case "block":
		err = block(ctx, db, args)
	case "unblock":
		err = unblock(ctx, db, args)
	case "events":
		err = events(ctx, db, args)
	case "resolve":
		err = resolve(ctx, db, args)
	case "stats":
		err = stats(ctx, db)
	case "waf-stats":
		err = wafStats(ctx, cfg, db)
	case "waf-events":
		err = wafEvents(ctx, db, args)
	case "audit":
		err = audit(ctx, db, args)
	case "sweep":
		err = sweep(ctx, cfg, db)
	case "run":
		err = run(ctx, cfg, db)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func setupLogging(cfg config.Config) {
	out := io.Writer(os.Stderr)
	if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "cerberus.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}
	log.SetOutput(out)
	logger.Init(cfg.Debug, out)
}

func seed(ctx context.Context, db *gorm.DB, args []string) error {
	var (
		rs  *rulesets.RuleSet
		err error
	)
	if len(args) > 0 {
		rs, err = rulesets.LoadFile(args[0])
	} else {
		rs, err = rulesets.Default()
	}
	if err != nil {
		return err
	}
	store := services.NewStore(db)
	res, err := store.Seed(ctx, rs.Signatures(), rs.Threats())
	if err != nil {
		return err
	}
	source := "defaults"
	if len(args) > 0 {
		source = args[0]
	}
	if err := store.Audit.Log(ctx, &models.AuditEntry{
		Actor:   actor(),
		Action:  models.AuditRulesSeeded,
		Target:  source,
		Details: fmt.Sprintf("signature_rules=%d threat_rules=%d skipped=%d", res.SignaturesCreated, res.ThreatsCreated, res.Skipped),
	}); err != nil {
		return err
	}
	logger.Log().WithFields(map[string]interface{}{
		"signature_rules": res.SignaturesCreated,
		"threat_rules":    res.ThreatsCreated,
		"skipped":         res.Skipped,
	}).Info("Rules seeded")
	return nil
}

func validate(ctx context.Context, cfg config.Config, db *gorm.DB, args []string) error {
	var req models.ValidationRequest
	if err := decodeInput(args, &req); err != nil {
		return err
	}
	return withRuntime(ctx, cfg, db, func(rt *bootstrap.Runtime) error {
		return printJSON(rt.Engine.ValidateRequest(ctx, req))
	})
}

func login(ctx context.Context, cfg config.Config, db *gorm.DB, args []string) error {
	var attempt models.LoginAttempt
	if err := decodeInput(args, &attempt); err != nil {
		return err
	}
	return withRuntime(ctx, cfg, db, func(rt *bootstrap.Runtime) error {
		events := rt.Engine.RecordLoginAttempt(ctx, attempt)
		if events == nil {
			events = []models.ThreatEvent{}
		}
		return printJSON(events)
	})
}

func setMode(ctx context.Context, db *gorm.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cerberus mode <off|detect|block>")
	}
	store := services.NewStore(db)
	mode, err := store.Settings.SetWAFMode(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Log().WithField("mode", mode).Info("Enforcement mode stored")
	return store.Audit.Log(ctx, &models.AuditEntry{Actor: actor(), Action: models.AuditModeChanged, Target: string(mode)})
}

func block(ctx context.Context, db *gorm.DB, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: cerberus block <ip|cidr> [duration]")
	}
	req := services.BlockRequest{Target: args[0], Reason: "manual block", BlockedBy: actor(), Permanent: true}
	if len(args) == 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid duration %q", args[1])
		}
		req.Duration, req.Permanent = d, false
	}
	store := services.NewStore(db)
	entry, err := store.Blocks.Block(ctx, req)
	if err != nil {
		return err
	}
	if err := store.Audit.Log(ctx, &models.AuditEntry{Actor: actor(), Action: models.AuditIPBlocked, Target: entry.Target(), Details: entry.Reason}); err != nil {
		return err
	}
	return printJSON(entry)
}

func unblock(ctx context.Context, db *gorm.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cerberus unblock <ip|cidr>")
	}
	store := services.NewStore(db)
	if err := store.Blocks.Unblock(ctx, args[0]); err != nil {
		return err
	}
	logger.Log().WithField("target", args[0]).Info("Block removed")
	return store.Audit.Log(ctx, &models.AuditEntry{Actor: actor(), Action: models.AuditIPUnblocked, Target: args[0]})
}

func events(ctx context.Context, db *gorm.DB, args []string) error {
	limit, err := limitArg(args, 50)
	if err != nil {
		return err
	}
	list, err := services.NewEventService(db).List(ctx, services.EventFilter{UnresolvedOnly: true, Limit: limit})
	if err != nil {
		return err
	}
	return printJSON(list)
}

func resolve(ctx context.Context, db *gorm.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cerberus resolve <event-id>")
	}
	store := services.NewStore(db)
	event, err := store.Events.Resolve(ctx, args[0], actor())
	if err != nil {
		return err
	}
	if err := store.Audit.Log(ctx, &models.AuditEntry{Actor: actor(), Action: models.AuditEventResolved, Target: event.ID}); err != nil {
		return err
	}
	return printJSON(event)
}

func audit(ctx context.Context, db *gorm.DB, args []string) error {
	limit, err := limitArg(args, 50)
	if err != nil {
		return err
	}
	entries, err := services.NewAuditService(db).List(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func stats(ctx context.Context, db *gorm.DB) error {
	s, err := services.NewEventService(db).Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(s)
}

func wafStats(ctx context.Context, cfg config.Config, db *gorm.DB) error {
	s, err := services.NewEventService(db).WAFStats(ctx, cfg.Security.Mode)
	if err != nil {
		return err
	}
	return printJSON(s)
}

func wafEvents(ctx context.Context, db *gorm.DB, args []string) error {
	category, args := categoryArg(args)
	limit, err := limitArg(args, 50)
	if err != nil {
		return err
	}
	list, err := services.NewEventService(db).WAFEvents(ctx, category, limit)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func sweep(ctx context.Context, cfg config.Config, db *gorm.DB) error {
	return withRuntime(ctx, cfg, db, func(rt *bootstrap.Runtime) error {
		if err := rt.Scheduler.RunSweep(ctx); err != nil {
			return err
		}
		return rt.Scheduler.RunRetention(ctx)
	})
}

func run(ctx context.Context, cfg config.Config, db *gorm.DB) error {
	logger.Log().Infof("starting %s", version.Banner())
	return withRuntime(ctx, cfg, db, func(rt *bootstrap.Runtime) error {
		rt.Start()
		<-ctx.Done()
		logger.Log().Info("Shutting down")
		return nil
	})
}

func withRuntime(ctx context.Context, cfg config.Config, db *gorm.DB, fn func(*bootstrap.Runtime) error) error {
	rt, err := bootstrap.New(ctx, cfg, db)
	if err != nil {
		return err
	}
	runErr := fn(rt)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// actor names the operator in audit entries.
func actor() string {
	if v := os.Getenv("CERBERUS_ACTOR"); v != "" {
		return v
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "cli"
}

// categoryArg splits off a leading non-numeric argument as a WAF category.
func categoryArg(args []string) (string, []string) {
	if len(args) == 0 {
		return "", args
	}
	if _, err := strconv.Atoi(args[0]); err == nil {
		return "", args
	}
	return strings.ToUpper(args[0]), args[1:]
}

func limitArg(args []string, fallback int) (int, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", args[0])
	}
	return n, nil
}

func decodeInput(args []string, v interface{}) error {
	in := io.Reader(os.Stdin)
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
