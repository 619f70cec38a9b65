package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/CLIAIMONITOR/cos/internal/config"
	"github.com/CLIAIMONITOR/cos/internal/events"
	"github.com/CLIAIMONITOR/cos/internal/history"
	"github.com/CLIAIMONITOR/cos/internal/instance"
	"github.com/CLIAIMONITOR/cos/internal/learning"
	"github.com/CLIAIMONITOR/cos/internal/metrics"
	"github.com/CLIAIMONITOR/cos/internal/notify"
	"github.com/CLIAIMONITOR/cos/internal/orchestrator"
	"github.com/CLIAIMONITOR/cos/internal/relay"
	"github.com/CLIAIMONITOR/cos/internal/schedule"
	"github.com/CLIAIMONITOR/cos/internal/state"
	"github.com/CLIAIMONITOR/cos/internal/statusapi"
	"github.com/CLIAIMONITOR/cos/internal/tasks"
)

// version is the build identifier surfaced by /healthz and -status.
const version = "1.0.0"

// ANSI color codes for terminal output
const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
)

func main() {
	port := flag.Int("port", 3000, "status API port")
	configPath := flag.String("config", "cos/config.yaml", "core configuration file")
	dataDir := flag.String("data", "data", "directory for state, learning, and schedule files")
	relayURL := flag.String("relay-url", "", "external NATS URL; empty runs an embedded broker")

	status := flag.Bool("status", false, "show status of running instance")
	stop := flag.Bool("stop", false, "stop running instance gracefully")
	forceStop := flag.Bool("force-stop", false, "force kill running instance")
	flag.Parse()

	basePath, err := getBasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to determine base path: %v\n", err)
		os.Exit(1)
	}

	if !filepath.IsAbs(*configPath) {
		*configPath = filepath.Join(basePath, *configPath)
	}
	if !filepath.IsAbs(*dataDir) {
		*dataDir = filepath.Join(basePath, *dataDir)
	}
	statePath := filepath.Join(*dataDir, "state.json")

	if *status {
		showInstanceStatus(statePath, *port)
		os.Exit(0)
	}
	if *stop || *forceStop {
		stopInstance(statePath, *forceStop)
		os.Exit(0)
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	pidFilePath := filepath.Join(*dataDir, "cos.pid")
	instanceMgr := instance.NewManager(pidFilePath, statePath, *port)

	existingInfo, err := instanceMgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check for existing instance: %v\n", err)
		os.Exit(1)
	}
	if existingInfo != nil && existingInfo.IsRunning {
		resolver := instance.NewConflictResolver(instanceMgr, instance.IsInteractive())
		if err := resolver.Resolve(existingInfo); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve instance conflict: %v\n", err)
			os.Exit(1)
		}
		*port = instanceMgr.GetPort()
	}

	if err := instanceMgr.AcquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
		os.Exit(1)
	}
	defer instanceMgr.ReleaseLock()

	printBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("  No config at %s, using defaults: %v\n", *configPath, err)
		cfg = config.Default()
	}

	st := state.NewStore(statePath)
	if err := st.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load state: %v\n", err)
		os.Exit(1)
	}
	st.Start()
	defer st.Stop()
	fmt.Printf("  State loaded from %s\n", statePath)

	lr := learning.NewStore(filepath.Join(*dataDir, "learning.json"))
	if err := lr.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load learning store: %v\n", err)
		os.Exit(1)
	}

	intervalTypes := make(map[string]schedule.IntervalType, len(cfg.IntervalTypes))
	for taskType, t := range cfg.IntervalTypes {
		intervalTypes[taskType] = schedule.IntervalType(t)
	}
	sc := schedule.NewStore(filepath.Join(*dataDir, "schedule.json"), cfg.Intervals, intervalTypes)
	if err := sc.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load schedule store: %v\n", err)
		os.Exit(1)
	}
	for _, ov := range cfg.Overrides {
		sc.SetOverride(schedule.Key{TaskType: ov.TaskType, App: ov.App}, ov.Interval)
	}

	eventStore, err := openEventStore(filepath.Join(*dataDir, "events.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: event history disabled: %v\n", err)
	}
	bus := events.NewBus(eventStore)

	userSource := tasks.NewFileMarkdownSource(filepath.Join(basePath, cfg.Paths.UserTasksFile), tasks.OriginUser)
	systemSource := tasks.NewFileMarkdownSource(filepath.Join(basePath, cfg.Paths.SystemTasksFile), tasks.OriginInternal)

	orch := orchestrator.New(cfg, st, lr, sc, bus, userSource, systemSource)

	historyStore, err := openHistoryStore(filepath.Join(*dataDir, "history.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: execution history disabled: %v\n", err)
	}
	historyStop := make(chan struct{})
	if historyStore != nil {
		reportsDir := filepath.Join(basePath, cfg.Paths.ReportsDir)
		go recordHistory(bus, historyStore, historyStop)
		go rollUpDaily(historyStore, reportsDir, historyStop)
	}

	fmt.Println("  Components initialized")

	fmt.Printf("  Checking port %d availability...\n", *port)
	if !instance.IsPortAvailable(*port) {
		procPID, _ := instance.GetProcessUsingPort(*port)
		fmt.Fprintf(os.Stderr, "\n  ERROR: Port %d is in use by process %d\n", *port, procPID)
		fmt.Fprintf(os.Stderr, "  Try: Use a different port with -port 8080\n")
		os.Exit(1)
	}
	fmt.Println("  Port available ✓")

	statusSrv := statusapi.New(orch, lr, sc, bus, *port, version)
	if err := statusSrv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start status API: %v\n", err)
		os.Exit(1)
	}

	relayClient, embeddedRelay, err := connectRelay(*relayURL, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start relay transport: %v\n", err)
		os.Exit(1)
	}
	bridge := relay.NewBridge(relayClient, bus, orch)
	if err := bridge.Start("all"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start relay bridge: %v\n", err)
		os.Exit(1)
	}

	notifyRouter := notify.NewRouter([]notify.Channel{
		notify.NewLogChannel(),
		notify.NewToastChannel(fmt.Sprintf("http://localhost:%d", *port)),
	})
	notifyStop := make(chan struct{})
	go notifyRouter.Run(bus, "notify", notifyStop)

	collector := metrics.NewCollector(200)
	alertEngine := metrics.NewAlertEngine(metrics.DefaultThresholds())
	healthStop := make(chan struct{})
	go runHealthMonitor(orch, lr, sc, bus, collector, alertEngine, healthStop)

	orch.Start()

	fmt.Print(colorGreen)
	fmt.Printf("  Status API ready at http://localhost:%d ✓\n", *port)
	fmt.Print(colorReset)
	fmt.Println()

	if err := instanceMgr.WritePIDFile(os.Getpid(), *port, basePath, version); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to write PID file: %v\n", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case <-shutdown:
		fmt.Println()
		fmt.Println("Shutting down (signal received)...")
	case <-statusSrv.ShutdownRequested():
		fmt.Println()
		fmt.Println("Shutting down (API request)...")
	}

	fmt.Println("Stopping orchestrator...")
	orch.Stop()

	fmt.Println("Stopping relay bridge...")
	bridge.Stop()
	relayClient.Close()
	if embeddedRelay != nil {
		embeddedRelay.Shutdown()
	}

	close(notifyStop)
	close(healthStop)
	if historyStore != nil {
		close(historyStop)
	}

	fmt.Println("Stopping status API...")
	statusSrv.Stop()

	fmt.Println("Removing PID file...")
	instanceMgr.RemovePIDFile()

	fmt.Println("Goodbye!")
}

// openEventStore opens the SQLite-backed event history database, creating
// it if absent. A nil store is still a valid events.Bus: it just can't
// replay events a disconnected subscriber missed.
func openEventStore(path string) (events.EventStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	store, err := events.NewSQLiteStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing event store: %w", err)
	}
	return store, nil
}

// connectRelay returns a connected relay.Client, optionally starting an
// embedded broker first when url is empty. The returned *relay.EmbeddedServer
// is nil when an external broker was used instead.
func connectRelay(url, dataDir string) (*relay.Client, *relay.EmbeddedServer, error) {
	var embedded *relay.EmbeddedServer

	if url == "" {
		srv, err := relay.NewEmbeddedServer(relay.EmbeddedServerConfig{
			Port:      -1,
			JetStream: true,
			DataDir:   filepath.Join(dataDir, "relay"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating embedded relay: %w", err)
		}
		if err := srv.Start(); err != nil {
			return nil, nil, fmt.Errorf("starting embedded relay: %w", err)
		}
		embedded = srv
		url = srv.URL()
	}

	client, err := relay.NewClient(url)
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("connecting to relay at %s: %w", url, err)
	}
	return client, embedded, nil
}

// openHistoryStore opens the execution ledger database, creating its schema
// if absent. A nil store with a non-nil error means history is unavailable
// for this run; the caller treats that as a soft failure.
func openHistoryStore(path string) (*history.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	store := history.NewStore(db)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return store, nil
}

// recordHistory subscribes to agent-completion events and archives each one
// as a history.Record, translating the bus's loosely-typed payload into the
// ledger's columns. It runs until stopCh closes.
func recordHistory(bus *events.Bus, store *history.Store, stopCh <-chan struct{}) {
	sub := bus.Subscribe("history", []events.EventType{events.EventAgentCompleted})
	defer bus.Unsubscribe("history", sub)

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			record := recordFromPayload(ev.Payload)
			if err := store.Record(record); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to archive task history: %v\n", err)
			}
		case <-stopCh:
			return
		}
	}
}

func recordFromPayload(payload map[string]interface{}) history.Record {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	success, _ := payload["success"].(bool)
	var durationMs int64
	switch v := payload["durationMs"].(type) {
	case int64:
		durationMs = v
	case int:
		durationMs = int64(v)
	case float64:
		durationMs = int64(v)
	}
	return history.Record{
		TaskID:      str("taskId"),
		TaskType:    str("taskType"),
		App:         str("app"),
		ModelTier:   str("modelTier"),
		Success:     success,
		DurationMs:  durationMs,
		Error:       str("error"),
		CompletedAt: time.Now(),
	}
}

// rollUpDaily writes a fresh report for "today so far" once an hour, giving
// the reports directory a continuously-updated view rather than one that
// only appears at midnight. It runs until stopCh closes.
func rollUpDaily(store *history.Store, reportsDir string, stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dayStart := time.Now().Truncate(24 * time.Hour)
			if _, err := history.RollUp(store, reportsDir, dayStart); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to roll up history report: %v\n", err)
			}
		case <-stopCh:
			return
		}
	}
}

// runHealthMonitor periodically snapshots agent and task-type health and
// routes any resulting alerts onto the bus for notify's channels to pick up.
func runHealthMonitor(orch *orchestrator.Orchestrator, lr *learning.Store, sc *schedule.Store, bus *events.Bus, c *metrics.Collector, alerts *metrics.AlertChecker, stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, pending := sc.Snapshot()
			snap := c.TakeSnapshot(orch.Agents(), lr.Snapshot(), pending)

			for _, a := range alerts.CheckAgents(snap.Agents) {
				publishAlert(bus, a)
			}
			for _, a := range alerts.CheckTaskTypes(snap.TaskTypes) {
				publishAlert(bus, a)
			}
			if a := alerts.CheckQueueDepth(snap.PendingOnDemand); a != nil {
				publishAlert(bus, a)
			}
		case <-stopCh:
			return
		}
	}
}

func publishAlert(bus *events.Bus, a *metrics.Alert) {
	eventType := events.EventHealthCheck
	if a.Severity == "critical" {
		eventType = events.EventHealthCritical
	}
	bus.Publish(events.NewEvent(eventType, "metrics", "all", events.PriorityHigh, map[string]interface{}{
		"alertType": a.Type,
		"subject":   a.Subject,
		"reason":    a.Message,
		"severity":  a.Severity,
	}))
}

// getBasePath returns the directory containing the executable, or the
// current working directory if running via `go run`.
func getBasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}

	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "exe" || filepath.Base(filepath.Dir(dir)) == "go-build" {
		return os.Getwd()
	}
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}

// showInstanceStatus displays information about the running instance.
func showInstanceStatus(statePath string, port int) {
	pidPath := filepath.Join(filepath.Dir(statePath), "cos.pid")
	mgr := instance.NewManager(pidPath, statePath, port)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if info == nil {
		fmt.Println("No cos instance is currently running")
		return
	}

	fmt.Println()
	fmt.Println("cos instance status")
	fmt.Println()

	statusIcon := "✓"
	if !info.IsResponding {
		statusIcon = "✗"
	}

	fmt.Printf("Instance:  %s RUNNING\n", statusIcon)
	fmt.Printf("  PID:     %d\n", info.PID)
	fmt.Printf("  Port:    %d\n", info.Port)
	fmt.Printf("  Started: %s (%s ago)\n", info.StartTime.Format("2006-01-02 15:04:05"), time.Since(info.StartTime).Round(time.Second))
	fmt.Printf("  Status:  http://localhost:%d/healthz\n", info.Port)
	fmt.Printf("  Health:  ")
	if info.IsResponding {
		fmt.Println("OK (responding)")
	} else {
		fmt.Println("DEGRADED (not responding)")
	}
	fmt.Println()
}

// stopInstance stops the running instance.
func stopInstance(statePath string, force bool) {
	pidPath := filepath.Join(filepath.Dir(statePath), "cos.pid")
	mgr := instance.NewManager(pidPath, statePath, 0)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Println("No cos instance is currently running")
		return
	}

	if force {
		fmt.Printf("Force killing process %d...\n", info.PID)
		if err := instance.KillProcess(info.PID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to kill process: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(time.Second)
		mgr.RemovePIDFile()
		fmt.Println("Instance terminated ✓")
		return
	}

	fmt.Printf("Sending graceful shutdown request to instance on port %d...\n", info.Port)
	if err := instance.SendShutdownRequest(info.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send shutdown request: %v\n", err)
		fmt.Println("Try using -force-stop to force kill the process")
		os.Exit(1)
	}

	fmt.Println("Waiting for graceful shutdown...")
	if instance.WaitForPortToBeAvailable(info.Port, 5*time.Second) {
		fmt.Println("Instance stopped successfully ✓")
	} else {
		fmt.Println("Warning: Instance may still be running")
		fmt.Println("Try: cos -force-stop")
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println("  cos - Chief of Staff task orchestration engine")
	fmt.Println()
}
