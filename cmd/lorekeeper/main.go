// Package main provides the lorekeeper command line client. It extracts
// structured subject profiles from conversations through a configured LLM
// provider and files them into a world-info lorebook, with a local cache
// that survives store outages.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/seralys/lorekeeper/internal/api"
	"github.com/seralys/lorekeeper/internal/buildinfo"
	"github.com/seralys/lorekeeper/internal/config"
	"github.com/seralys/lorekeeper/internal/engine"
	apperrors "github.com/seralys/lorekeeper/internal/errors"
	"github.com/seralys/lorekeeper/internal/logging"
	"github.com/seralys/lorekeeper/internal/probe"
	"github.com/seralys/lorekeeper/internal/prompt"
	"github.com/seralys/lorekeeper/internal/record"
	"github.com/seralys/lorekeeper/internal/usage"
	"github.com/seralys/lorekeeper/internal/worldinfo"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var (
		configPath string
		logLevel   string
		logFile    string

		generate  string
		list      bool
		refresh   bool
		models    bool
		testConn  bool
		debugInfo bool
		flush     bool
		serveAddr string

		prefix string
		floors int
	)

	flag.StringVar(&configPath, "config", "lorekeeper.yaml", "path to the settings file")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, quiet")
	flag.StringVar(&logFile, "log-file", "", "also write logs to this file")
	flag.StringVar(&generate, "generate", "", "extract a profile for this subject from the conversation on stdin and file it")
	flag.BoolVar(&list, "list", false, "list all known profiles, store state winning over cache")
	flag.BoolVar(&refresh, "refresh", false, "discard the cache and reload the lorebook from the store")
	flag.BoolVar(&models, "models", false, "list the models the configured provider advertises")
	flag.BoolVar(&testConn, "test", false, "probe the provider and report the working request shape")
	flag.BoolVar(&debugInfo, "debug-info", false, "print the effective configuration and cache state")
	flag.BoolVar(&flush, "flush", false, "resubmit profiles held locally after store failures")
	flag.StringVar(&serveAddr, "serve", "", "run the debug server on this address, e.g. 127.0.0.1:8086")
	flag.StringVar(&prefix, "prefix", "", "extra instruction prepended to the generation prompt")
	flag.IntVar(&floors, "floors", prompt.DefaultMaxTurns, "conversation turns included in the prompt")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment overrides from .env")
	}
	if logLevel != "" {
		logging.SetLogLevel(logLevel)
	}
	if logFile != "" {
		if err := logging.EnableFileLogging(logFile); err != nil {
			log.Fatalf("cannot open log file: %v", err)
		}
	}

	settings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("cannot load settings: %v", err)
	}
	var current atomic.Pointer[config.Settings]
	current.Store(settings)
	snapshot := func() *config.Settings { return current.Load() }

	client, err := engine.NewHTTPClient(settings.ProxyURL, 60*time.Second)
	if err != nil {
		log.Fatalf("cannot build HTTP client: %v", err)
	}

	resolver := probe.NewResolver(client, func() string { return snapshot().BackendURL }, nil)
	collectors := api.NewCollectors()

	var opts []engine.Option
	opts = append(opts, engine.WithMetrics(collectors))
	var ledger *usage.Ledger
	if path := settings.Archive.UsageDBPath; path != "" {
		if ledger, err = usage.Open(path); err != nil {
			log.Fatalf("cannot open usage ledger: %v", err)
		}
		defer func() { _ = ledger.Close() }()
		opts = append(opts, engine.WithRecorder(ledger))
	}
	eng := engine.New(snapshot, resolver, client, opts...)

	var bridge *worldinfo.Bridge
	if settings.Archive.StoreURL != "" {
		bridge = worldinfo.NewBridge(
			worldinfo.NewClient(client, settings.Archive.StoreURL),
			settings.Archive.Collection,
			settings.Archive.CachePath,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case generate != "":
		err = runGenerate(ctx, eng, bridge, snapshot(), generate, prefix, floors)
	case list:
		err = runList(ctx, bridge)
	case refresh:
		err = requireBridge(bridge, func() error { return bridge.Refresh(ctx) })
	case flush:
		err = requireBridge(bridge, func() error { return bridge.Flush(ctx) })
	case models:
		err = runModels(ctx, eng)
	case testConn:
		err = runTest(ctx, eng)
	case debugInfo:
		err = printJSON(eng.DebugInfo())
	case serveAddr != "":
		err = runServe(ctx, serveAddr, configPath, snapshot, current.Store,
			eng, bridge, ledger, collectors)
	default:
		fmt.Printf("lorekeeper %s (%s, built %s)\n\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		flag.Usage()
		return
	}
	if err != nil {
		callType := apperrors.CallTypeProxied
		if snapshot().Provider == "frontend_custom" {
			callType = apperrors.CallTypeDirect
		}
		log.Error(apperrors.UserFacing(err, callType))
		os.Exit(1)
	}
}

func requireBridge(bridge *worldinfo.Bridge, fn func() error) error {
	if bridge == nil {
		return fmt.Errorf("no lorebook store configured; set archive.store-url in the settings file")
	}
	return fn()
}

// runGenerate reads "Speaker: text" lines from stdin, asks the provider for
// a profile block about the named subject and files the parsed result.
func runGenerate(ctx context.Context, eng *engine.Engine, bridge *worldinfo.Bridge, s *config.Settings, subject, prefix string, floors int) error {
	turns, err := readTurns(os.Stdin)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return fmt.Errorf("no conversation on stdin; pipe lines of the form \"Speaker: text\"")
	}

	focus := fmt.Sprintf("The subject of the profile is %q.", subject)
	if prefix != "" {
		focus = prefix + "\n" + focus
	}
	builder := prompt.New(s.SystemPrompt, focus, floors)
	messages := []engine.Message{
		{Role: "system", Content: builder.System()},
		{Role: "user", Content: builder.Build(turns)},
	}
	resp, err := eng.Call(ctx, messages, engine.CallOptions{})
	if err != nil {
		return err
	}
	for _, w := range resp.Warnings {
		log.Warn(w)
	}
	if resp.Truncated {
		log.Warnf("response still truncated after retries: %s", resp.TruncationReason)
	}

	profile, block, ok := record.Parse(resp.Content)
	if !ok {
		return fmt.Errorf("the model produced no profile block; raw output follows\n%s", resp.Content)
	}
	fmt.Println(block)

	if bridge == nil {
		log.Info("no lorebook store configured, profile printed only")
		return nil
	}
	name := profile.Name
	if name == "" {
		name = subject
		profile.Name = subject
	}
	if err = bridge.Put(ctx, name, profile); err != nil {
		return err
	}
	log.Infof("profile for %q filed to the lorebook", name)
	return nil
}

func readTurns(f *os.File) ([]prompt.Turn, error) {
	var turns []prompt.Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		speaker, text, found := strings.Cut(line, ":")
		if !found {
			turns = append(turns, prompt.Turn{Text: line})
			continue
		}
		turns = append(turns, prompt.Turn{Speaker: strings.TrimSpace(speaker), Text: strings.TrimSpace(text)})
	}
	return turns, scanner.Err()
}

func runList(ctx context.Context, bridge *worldinfo.Bridge) error {
	return requireBridge(bridge, func() error {
		profiles, err := bridge.Merged(ctx)
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("no profiles on record")
			return nil
		}
		for _, p := range profiles {
			fmt.Printf("%s\t(age %s)\t%s\n", p.Name, orDash(p.Profile.Age), orDash(p.Profile.Background))
		}
		return nil
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runModels(ctx context.Context, eng *engine.Engine) error {
	models, err := eng.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Println(m)
	}
	return nil
}

func runTest(ctx context.Context, eng *engine.Engine) error {
	report, err := eng.TestConnection(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("connection ok: shape=%s models=%d latency=%s cached=%t\nreply: %s\n",
		report.Shape, report.ModelCount, report.Latency.Round(time.Millisecond), report.Cached, report.Reply)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// runServe runs the debug server with settings hot reload until interrupted.
func runServe(ctx context.Context, addr, configPath string, snapshot func() *config.Settings, swap func(*config.Settings),
	eng *engine.Engine, bridge *worldinfo.Bridge, ledger *usage.Ledger, collectors *api.Collectors) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := config.Watch(watchCtx, configPath, swap); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("settings hot reload unavailable: %v", err)
		}
	}()
	srv := api.New(snapshot, eng, bridge, ledger, collectors)
	return srv.Run(ctx, addr)
}
