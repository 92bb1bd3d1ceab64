// ABOUTME: Entry point for the ragfleet process supervisor
// ABOUTME: Starts, monitors, and restarts the MCP service fleet

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/WebRobot-Ltd/ultra-rag/internal/config"
	"github.com/WebRobot-Ltd/ultra-rag/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  __ _           _
 _ __ __ _  __ _ / _| | ___  ___| |_
| '__/ _' |/ _' | |_| |/ _ \/ _ \ __|
| | | (_| | (_| |  _| |  __/  __/ |_
|_|  \__,_|\__, |_| |_|\___|\___|\__|
           |___/
`

// getConfigPath returns the fleet config path.
// Priority: --config flag > ULTRARAG_CONFIG env var > ./ultrarag.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("ULTRARAG_CONFIG"); envPath != "" {
		return envPath
	}
	return "ultrarag.yaml"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ragfleet <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start and supervise all configured services")
		fmt.Println("  list     List configured services")
		fmt.Println("  status   Show the state of a running fleet")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "list":
		err = runList()
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	proxyBinFlag := fs.String("proxy-bin", "ragproxy", "proxy binary launched for auth-enabled services")
	logDirFlag := fs.String("log-dir", "", "directory for per-process log files")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	configPath := getConfigPath(*configFlag)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Services) == 0 {
		return fmt.Errorf("no services configured in %s", configPath)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	for _, svc := range cfg.Services {
		green.Print("    ▶ ")
		fmt.Printf("%-10s port %d", svc.Name, svc.Port)
		if svc.Auth {
			cyan.Printf("  [auth proxy :%d]", svc.ProxyPort)
		}
		fmt.Println()
	}
	if cfg.Supervisor.HealthAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Health:   %s\n", cfg.Supervisor.HealthAddr)
	}
	fmt.Println()

	sup := supervisor.New(cfg, supervisor.Options{
		ProxyCommand: *proxyBinFlag,
		ConfigPath:   configPath,
		LogDir:       *logDirFlag,
		Logger:       logger,
	})

	if err := sup.StartAll(ctx); err != nil {
		return fmt.Errorf("starting fleet: %w", err)
	}

	if cfg.Supervisor.HealthAddr != "" {
		hs := supervisor.NewHealthServer(sup, cfg.Supervisor.HealthAddr, logger)
		go func() {
			if err := hs.Run(ctx); err != nil {
				logger.Error("health server failed", "error", err)
			}
		}()
	}

	logger.Info("fleet started", "services", len(cfg.Services))
	sup.Run(ctx)

	// Monitoring is stopped before teardown, so a restart never races the
	// deliberate shutdown below.
	sup.StopAll()
	logger.Info("fleet stopped")
	return nil
}

func runList() error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	for _, svc := range cfg.Services {
		line := fmt.Sprintf("%-12s port=%d", svc.Name, svc.Port)
		if svc.Auth {
			line += fmt.Sprintf(" proxy_port=%d auth=on", svc.ProxyPort)
		} else {
			line += " auth=off"
		}
		fmt.Println(line)
	}
	return nil
}

func runStatus(ctx context.Context) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Supervisor.HealthAddr == "" {
		return fmt.Errorf("supervisor.health_addr is not configured")
	}

	addr := cfg.Supervisor.HealthAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/services", addr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var procs []supervisor.ManagedProcess
	if err := json.Unmarshal(body, &procs); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for _, p := range procs {
		name := p.ServiceName
		if p.Role == supervisor.RoleProxy {
			name += "-proxy"
		}
		fmt.Printf("%-20s pid=%-8d port=%-6d ", name, p.PID, p.Port)
		if p.State == supervisor.StateRunning {
			green.Println(p.State)
		} else {
			red.Println(p.State)
		}
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
