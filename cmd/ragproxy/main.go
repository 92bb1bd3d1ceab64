// ABOUTME: Entry point for the ragproxy authenticating MCP proxy
// ABOUTME: Serves one upstream service behind credential validation

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/WebRobot-Ltd/ultra-rag/internal/auth"
	"github.com/WebRobot-Ltd/ultra-rag/internal/config"
	"github.com/WebRobot-Ltd/ultra-rag/internal/proxy"
	"github.com/WebRobot-Ltd/ultra-rag/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the proxy config path.
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
		fmt.Println("Usage: ragproxy <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the authenticating proxy")
		fmt.Println("  keygen   Mint a new API key in the credential store")
		fmt.Println("  health   Check proxy health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "keygen":
		err = runKeygen(ctx)
	case "health":
		err = runHealth(ctx)
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
	serviceFlag := fs.String("service", "", "service name (overrides server.service_name)")
	listenFlag := fs.String("listen", "", "listen address (overrides server.listen_addr)")
	upstreamFlag := fs.String("upstream", "", "upstream URL (overrides server.upstream_url)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// The fleet supervisor passes per-service overrides on the command line
	// so all proxies can share one config file.
	if *serviceFlag != "" {
		cfg.Server.ServiceName = *serviceFlag
	}
	if *listenFlag != "" {
		cfg.Server.ListenAddr = *listenFlag
	}
	if *upstreamFlag != "" {
		cfg.Server.UpstreamURL = *upstreamFlag
	}
	if cfg.Server.UpstreamURL == "" {
		return fmt.Errorf("server.upstream_url is required")
	}

	logger := setupLogger(cfg.Logging)

	var validator *auth.Validator
	if cfg.Auth.Enabled {
		st, err := store.NewSQLStore(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("opening credential store: %w", err)
		}
		defer st.Close()

		var verifier *auth.JWTVerifier
		if cfg.Auth.JWTSecret != "" {
			verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("configuring token verifier: %w", err)
			}
		} else {
			logger.Warn("auth.jwt_secret not set, bearer tokens will be rejected")
		}

		validator = auth.NewValidator(st, verifier, auth.ValidatorOptions{
			CacheTTL:  cfg.Auth.CacheTTL,
			DevAPIKey: cfg.Auth.DevAPIKey,
			DevUserID: cfg.Auth.DevUserID,
			DevRole:   cfg.Auth.DevRole,
			DevScopes: cfg.Auth.DevScopes,
			DevOrgID:  cfg.Auth.DevOrgID,
			Auditor:   auth.NewLogAuditor(logger),
			Logger:    logger,
		})
	} else {
		logger.Warn("authentication disabled, forwarding without credential checks")
	}

	srv, err := proxy.NewServer(*cfg, validator, logger)
	if err != nil {
		return fmt.Errorf("creating proxy server: %w", err)
	}

	logger.Info("starting ragproxy",
		"version", version,
		"config", configPath,
		"service", cfg.Server.ServiceName,
		"listen", cfg.Server.ListenAddr,
		"upstream", cfg.Server.UpstreamURL,
		"auth", cfg.Auth.Enabled,
	)

	return srv.Run(ctx)
}

// keyAlphabet matches the shape of issued credentials: URL-safe, no
// separator characters (the colon splits key id from secret).
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func runKeygen(ctx context.Context) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	labelFlag := fs.String("label", "", "human-readable key label")
	roleFlag := fs.String("role", "developer", "role for the new key")
	scopesFlag := fs.String("scopes", "", "comma-separated scopes (defaults to role scopes)")
	ownerFlag := fs.String("owner", "", "owner user id")
	orgFlag := fs.String("org", "", "organization id")
	expiresFlag := fs.Duration("expires", 0, "validity window, e.g. 720h (0 = no expiry)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Store.Driver == "" || cfg.Store.DSN == "" {
		return fmt.Errorf("store.driver and store.dsn must be configured")
	}

	st, err := store.NewSQLStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer st.Close()

	keyID, err := randomToken(8)
	if err != nil {
		return fmt.Errorf("generating key id: %w", err)
	}
	secret, err := randomToken(32)
	if err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}

	var scopes []string
	for _, s := range strings.Split(*scopesFlag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}

	rec := &store.APIKeyRecord{
		KeyID:          keyID,
		SecretHash:     auth.HashSecret(secret),
		Label:          *labelFlag,
		Role:           *roleFlag,
		Scopes:         scopes,
		Status:         store.KeyStatusActive,
		OwnerID:        *ownerFlag,
		OrganizationID: *orgFlag,
	}
	if *expiresFlag > 0 {
		expiry := time.Now().Add(*expiresFlag).UTC()
		rec.ExpiresAt = &expiry
	}

	if err := st.CreateAPIKey(ctx, rec); err != nil {
		return fmt.Errorf("storing key: %w", err)
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	green.Println("  ✓ API key created")
	fmt.Printf("    key:    %s:%s\n", keyID, secret)
	fmt.Printf("    role:   %s\n", *roleFlag)
	if len(scopes) > 0 {
		fmt.Printf("    scopes: %s\n", strings.Join(scopes, ","))
	}
	if rec.ExpiresAt != nil {
		fmt.Printf("    expires: %s\n", rec.ExpiresAt.Format(time.RFC3339))
	}
	gray.Println("\n  The secret is not retrievable later; only its digest is stored.")
	return nil
}

// randomToken draws n characters from keyAlphabet using crypto/rand.
func randomToken(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = keyAlphabet[idx.Int64()]
	}
	return string(out), nil
}

func runHealth(ctx context.Context) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	var health struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("%s (%s)\n", health.Status, health.Service)
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

	// Proxies usually run as supervised children with output captured to
	// log files, so plain handlers beat colorized ones here.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
