package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/n0madic/go-claudebridge/internal/auth"
	"github.com/n0madic/go-claudebridge/internal/budget"
	"github.com/n0madic/go-claudebridge/internal/capability"
	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/limits"
	"github.com/n0madic/go-claudebridge/internal/pipe"
	"github.com/n0madic/go-claudebridge/internal/server"
	"github.com/n0madic/go-claudebridge/internal/telemetry"
	"github.com/n0madic/go-claudebridge/internal/tools"
	"github.com/n0madic/go-claudebridge/internal/types"
	"github.com/n0madic/go-claudebridge/internal/upstream"
)

var version = "dev"

const usage = `Usage: claudebridge <command> [flags]
Commands: serve, ask, info`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe(os.Args[2:]))
	case "ask":
		os.Exit(cmdAsk(os.Args[2:]))
	case "info":
		os.Exit(cmdInfo(os.Args[2:]))
	case "version", "--version":
		fmt.Println("claudebridge", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

// loadConfig applies defaults, the --config file, the environment and then
// the command line, in increasing order of precedence.
func loadConfig(name string, args []string, extra func(fs *pflag.FlagSet, cfg *config.Config)) (*config.Config, *pflag.FlagSet, error) {
	path := configPath(args)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", path, "YAML configuration file")
	bindOptionFlags(fs, cfg)
	if extra != nil {
		extra(fs, cfg)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg.Preferences.ThinkingDisplay = strings.ToLower(strings.TrimSpace(cfg.Preferences.ThinkingDisplay))
	cfg.Options.CacheTTL = strings.ToLower(strings.TrimSpace(cfg.Options.CacheTTL))
	setupLogging(cfg)
	return cfg, fs, nil
}

// configPath finds --config before the full flag set exists, so that
// file values can serve as flag defaults.
func configPath(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ""
		case a == "--config" || a == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-c="):
			return strings.TrimPrefix(a, "-c=")
		}
	}
	return os.Getenv("CLAUDEBRIDGE_CONFIG")
}

func bindOptionFlags(fs *pflag.FlagSet, cfg *config.Config) {
	o := &cfg.Options
	fs.StringVar(&o.APIKey, "api-key", o.APIKey, "Messages API key")
	fs.StringVar(&o.BaseURL, "base-url", o.BaseURL, "Messages API base URL")
	fs.StringVar(&o.APIVersion, "api-version", o.APIVersion, "anthropic-version header value")
	fs.StringVar(&o.Model, "model", o.Model, "Upstream model id")
	fs.StringVar(&o.OAuth.AccessToken, "oauth-access-token", o.OAuth.AccessToken, "OAuth bearer token used instead of an API key")
	fs.StringVar(&o.OAuth.RefreshToken, "oauth-refresh-token", o.OAuth.RefreshToken, "OAuth refresh token")
	fs.StringVar(&o.OAuth.TokenURL, "oauth-token-url", o.OAuth.TokenURL, "OAuth token endpoint")
	fs.StringVar(&o.OAuth.ClientID, "oauth-client-id", o.OAuth.ClientID, "OAuth client id")

	fs.IntVar(&o.DefaultMaxTokens, "default-max-tokens", o.DefaultMaxTokens, "Output token ceiling")
	fs.Float64Var(&o.DefaultTemperature, "temperature", o.DefaultTemperature, "Default sampling temperature")
	fs.DurationVar(&o.RequestTimeout, "request-timeout", o.RequestTimeout, "Whole-response timeout")
	fs.DurationVar(&o.ConnectTimeout, "connect-timeout", o.ConnectTimeout, "Connect and TLS handshake timeout")

	fs.BoolVar(&o.EnableExtendedThinking, "thinking", o.EnableExtendedThinking, "Enable extended thinking")
	fs.IntVar(&o.ThinkingBudgetTokens, "thinking-budget", o.ThinkingBudgetTokens, "Reasoning budget in tokens (clamped to 1024..16000)")

	fs.BoolVar(&o.EnablePromptCaching, "prompt-caching", o.EnablePromptCaching, "Insert cache markers")
	fs.StringVar(&o.CacheTTL, "cache-ttl", o.CacheTTL, "Cache lifetime (5min|1hour)")
	fs.BoolVar(&o.CacheSystemPrompt, "cache-system", o.CacheSystemPrompt, "Cache the system preamble")
	fs.BoolVar(&o.CacheUserMessages, "cache-user-messages", o.CacheUserMessages, "Cache the second-to-last user turn")

	fs.BoolVar(&o.EnableWebSearch, "web-search", o.EnableWebSearch, "Offer the web search tool")
	fs.IntVar(&o.WebSearchMaxUses, "web-search-max-uses", o.WebSearchMaxUses, "Searches per request (1..20)")
	fs.StringSliceVar(&o.WebSearchDomainAllowlist, "allowed-domains", o.WebSearchDomainAllowlist, "Restrict web search to these domains")
	fs.StringSliceVar(&o.WebSearchDomainBlocklist, "blocked-domains", o.WebSearchDomainBlocklist, "Exclude these domains from web search")

	fs.BoolVar(&o.EnableCodeExecution, "code-execution", o.EnableCodeExecution, "Offer the code execution tool")
	fs.BoolVar(&o.AllowRawCodeExecution, "raw-code-execution", o.AllowRawCodeExecution, "Allow code execution without skills")
	fs.BoolVar(&o.EnableSkillXLSX, "skill-xlsx", o.EnableSkillXLSX, "Enable the xlsx skill")
	fs.BoolVar(&o.EnableSkillPPTX, "skill-pptx", o.EnableSkillPPTX, "Enable the pptx skill")
	fs.BoolVar(&o.EnableSkillDOCX, "skill-docx", o.EnableSkillDOCX, "Enable the docx skill")
	fs.BoolVar(&o.EnableSkillPDF, "skill-pdf", o.EnableSkillPDF, "Enable the pdf skill")
	fs.StringSliceVar(&o.CustomSkillIDs, "skills", o.CustomSkillIDs, "Additional skill ids")

	fs.BoolVar(&o.ShowThinkingProcess, "show-thinking", o.ShowThinkingProcess, "Render the reasoning section")
	fs.BoolVar(&o.ShowWebSearchDetails, "show-web-search", o.ShowWebSearchDetails, "Render the web search section")
	fs.BoolVar(&o.ShowCitations, "show-citations", o.ShowCitations, "Publish citations")
	fs.BoolVar(&o.ShowTokenUsage, "show-usage", o.ShowTokenUsage, "Render the token usage summary")
	fs.BoolVar(&o.ShowProcessingStatus, "show-status", o.ShowProcessingStatus, "Publish status notifications")
	fs.BoolVar(&o.DeduplicateCitations, "dedupe-citations", o.DeduplicateCitations, "Drop repeated citations")
	fs.BoolVar(&o.WarnOnBudgetClamp, "warn-budget-clamp", o.WarnOnBudgetClamp, "Log reasoning budget clamps at warn level")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.Server.LogFormat, "log-format", cfg.Server.LogFormat, "Log format (text|json)")

	p := &cfg.Preferences
	fs.StringVar(&p.ThinkingDisplay, "thinking-display", p.ThinkingDisplay, "Default reasoning display (visible|hidden)")
	fs.BoolVar(&p.EnableWebSearch, "my-web-search", p.EnableWebSearch, "Default caller opt-in to web search")
	fs.BoolVar(&p.EnableCodeExecution, "my-code-execution", p.EnableCodeExecution, "Default caller opt-in to code execution")

	t := &cfg.Telemetry
	fs.BoolVar(&t.Disable, "disable-telemetry", t.Disable, "Disable tracing (set =false to enable)")
	fs.StringVar(&t.Exporter, "telemetry-exporter", t.Exporter, "Span exporter (otlp|stdout)")
}

func setupLogging(cfg *config.Config) {
	handlerOpts := &slog.HandlerOptions{Level: cfg.Options.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(cfg.Server.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// build wires credentials, the upstream client and the pipe. Missing
// credentials are not fatal here: requests fail with a configuration error
// before any network interaction.
func build(ctx context.Context, cfg *config.Config) (*pipe.Pipe, *upstream.Client, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, nil, err
	}
	creds, err := auth.New(ctx, &cfg.Options)
	if err != nil && !errors.Is(err, auth.ErrNoCredentials) {
		return nil, nil, err
	}
	if creds == nil {
		slog.Warn("auth.missing", "hint", "set CLAUDEBRIDGE_API_KEY or ANTHROPIC_API_KEY")
	} else {
		slog.Info("auth.configured", "kind", creds.Kind())
	}
	client := upstream.NewClient(&cfg.Options, creds)
	client.Verbose = cfg.Server.Verbose
	client.Debug = cfg.Server.Debug
	return pipe.New(&cfg.Options, client), client, nil
}

func startTelemetry(ctx context.Context, cfg *config.Config) func() {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		slog.Warn("telemetry.init.failed", "error", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("telemetry.shutdown.failed", "error", err)
		}
	}
}

func cmdServe(args []string) int {
	cfg, _, err := loadConfig("serve", args, func(fs *pflag.FlagSet, cfg *config.Config) {
		fs.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Bind host")
		fs.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "Listen port")
		fs.BoolVar(&cfg.Server.Verbose, "verbose", cfg.Server.Verbose, "Log every request and upstream exchange")
		fs.BoolVar(&cfg.Server.Debug, "debug", cfg.Server.Debug, "Dump inbound and upstream traffic to stderr")
		fs.StringVar(&cfg.Server.AccessToken, "access-token", cfg.Server.AccessToken, "Bearer token required on /v1/ routes")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		return 2
	}

	ctx := context.Background()
	stopTelemetry := startTelemetry(ctx, cfg)
	defer stopTelemetry()

	p, client, err := build(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}
	srv := server.New(cfg, p, client.Limits)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("claudebridge starting", "addr", srv.Addr(), "model", cfg.Options.Model, "version", version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func cmdAsk(args []string) int {
	var (
		system     string
		noStream   bool
		showLimits bool
		maxTokens  int
	)
	cfg, fs, err := loadConfig("ask", args, func(fs *pflag.FlagSet, _ *config.Config) {
		fs.StringVarP(&system, "system", "s", "", "System prompt")
		fs.BoolVar(&noStream, "no-stream", false, "Wait for the complete response")
		fs.BoolVar(&showLimits, "limits", false, "Print rate-limit usage afterwards")
		fs.IntVar(&maxTokens, "max-tokens", 0, "Requested output tokens (0 means the configured ceiling)")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 2
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" || prompt == "-" {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ask: read stdin: %v\n", err)
			return 1
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "ask: empty prompt")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	stopTelemetry := startTelemetry(ctx, cfg)
	defer stopTelemetry()

	p, client, err := build(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	streaming := !noStream
	req := &types.ChatCompletionRequest{Stream: &streaming}
	if system != "" {
		req.Messages = append(req.Messages, textMessage("system", system))
	}
	req.Messages = append(req.Messages, textMessage("user", prompt))
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}

	code := 0
	if noStream {
		res, err := p.Complete(ctx, req, cfg.Preferences)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			code = 1
		} else {
			fmt.Println(res.Document)
		}
	} else {
		var cites []pipe.Citation
		sink := pipe.SinkFunc(func(n pipe.Notification) {
			switch n := n.(type) {
			case pipe.Status:
				if !n.Hidden {
					fmt.Fprintf(os.Stderr, "\033[2m· %s\033[0m\n", n.Description)
				}
			case pipe.Citation:
				cites = append(cites, n)
			}
		})
		for fragment := range p.Stream(ctx, req, cfg.Preferences, sink) {
			fmt.Print(fragment)
		}
		fmt.Println()
		if len(cites) > 0 {
			fmt.Println()
			for _, c := range cites {
				fmt.Printf("%s %s\n", c.Source.Name, strings.Join(c.Source.URLs, " "))
			}
		}
	}

	if showLimits {
		fmt.Fprintln(os.Stderr)
		printUsageLimits(os.Stderr, client.Limits.Last())
	}
	return code
}

func textMessage(role, text string) types.ChatMessage {
	raw, _ := json.Marshal(text)
	return types.ChatMessage{Role: role, Content: raw}
}

type infoReport struct {
	Credentials string     `json:"credentials"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	BaseURL     string     `json:"base_url"`
	Model       string     `json:"model"`
	Extensions  []string   `json:"extensions"`
	Tools       []string   `json:"tools"`
	Skills      []string   `json:"skills,omitempty"`
	MaxTokens   int        `json:"max_tokens"`
	Reasoning   int        `json:"reasoning_budget,omitempty"`
	Problem     string     `json:"problem,omitempty"`
}

func cmdInfo(args []string) int {
	var jsonOut bool
	cfg, _, err := loadConfig("info", args, func(fs *pflag.FlagSet, _ *config.Config) {
		fs.BoolVar(&jsonOut, "json", false, "Output JSON")
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "info: %v\n", err)
		return 2
	}

	o := &cfg.Options
	report := infoReport{
		Credentials: "none",
		BaseURL:     o.BaseURL,
		Model:       o.Model,
		Extensions:  capability.Negotiate(o, cfg.Preferences),
		Skills:      tools.SkillIDs(o),
	}
	if report.Extensions == nil {
		report.Extensions = []string{}
	}
	switch {
	case strings.TrimSpace(o.APIKey) != "":
		report.Credentials = "api_key"
	case strings.TrimSpace(o.OAuth.AccessToken) != "" || strings.TrimSpace(o.OAuth.RefreshToken) != "":
		report.Credentials = "oauth"
		if exp, ok := auth.TokenExpiry(o.OAuth.AccessToken); ok {
			report.TokenExpiry = &exp
		}
	}
	report.Tools = []string{}
	for _, d := range tools.Configure(o, cfg.Preferences) {
		report.Tools = append(report.Tools, d.ToolName())
	}
	alloc := budget.New(o.DefaultMaxTokens).Allocate(nil, o.EnableExtendedThinking, o.ThinkingBudgetTokens)
	report.MaxTokens = alloc.MaxTokens
	report.Reasoning = alloc.ReasoningBudget
	if err := o.Validate(); err != nil {
		report.Problem = err.Error()
	} else if err := o.RequireCredentials(); err != nil {
		report.Problem = err.Error()
	}

	if jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Println("\U0001F464 Account")
	fmt.Printf("  • Credentials: %s\n", report.Credentials)
	if report.TokenExpiry != nil {
		fmt.Printf("  • Token expires: %s\n", formatLocalDateTime(*report.TokenExpiry))
	}
	fmt.Printf("  • Endpoint: %s\n", report.BaseURL)
	fmt.Printf("  • Model: %s\n", report.Model)
	fmt.Println()
	fmt.Println("\U0001F9F0 Request shape")
	fmt.Printf("  • Extensions: %s\n", orNone(report.Extensions))
	fmt.Printf("  • Tools: %s\n", orNone(report.Tools))
	if len(report.Skills) > 0 {
		fmt.Printf("  • Skills: %s\n", strings.Join(report.Skills, ", "))
	}
	fmt.Printf("  • Max tokens: %d\n", report.MaxTokens)
	if report.Reasoning > 0 {
		fmt.Printf("  • Reasoning budget: %d\n", report.Reasoning)
	}
	if report.Problem != "" {
		fmt.Println()
		fmt.Printf("⚠️  %s\n", report.Problem)
		return 1
	}
	return 0
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func printUsageLimits(w io.Writer, snap *limits.Snapshot) {
	fmt.Fprintln(w, "\U0001F4CA Rate Limits")
	if snap == nil {
		fmt.Fprintln(w, "  No rate-limit headers were returned.")
		return
	}
	fmt.Fprintf(w, "Captured: %s\n", formatLocalDateTime(snap.CapturedAt))

	type windowInfo struct {
		icon   string
		desc   string
		window *limits.Window
	}
	windows := []windowInfo{
		{"⚡", "Requests", snap.Requests},
		{"\U0001F522", "Tokens", snap.Tokens},
		{"\U0001F4E5", "Input tokens", snap.InputTokens},
		{"\U0001F4E4", "Output tokens", snap.OutputTokens},
	}
	for _, wi := range windows {
		pct := wi.window.UsedPercent()
		if pct < 0 {
			continue
		}
		color := usageColor(pct)
		reset := "\033[0m"
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", wi.icon, wi.desc)
		fmt.Fprintf(w, "%s%s%s %s%5.1f%% used%s | %d of %d left\n",
			color, renderProgressBar(pct), reset, color, pct, reset, *wi.window.Remaining, *wi.window.Limit)
		if wi.window.Reset != nil {
			fmt.Fprintf(w, "    ⏳ Resets in: %s at %s\n",
				formatResetDuration(time.Until(*wi.window.Reset)), formatLocalDateTime(*wi.window.Reset))
		}
	}
	if snap.RetryAfter > 0 {
		fmt.Fprintf(w, "\n⏸️  Retry after %s\n", formatResetDuration(snap.RetryAfter))
	}
}

const barSegments = 30

func renderProgressBar(pct float64) string {
	ratio := min(max(pct/100.0, 0), 1)
	filledExact := ratio * float64(barSegments)
	filled := int(filledExact)
	hasPartial := filledExact-float64(filled) > 0.5
	if hasPartial {
		filled++
	}
	filled = min(filled, barSegments)
	empty := barSegments - filled
	var bar string
	if hasPartial && filled > 0 {
		bar = strings.Repeat("█", filled-1) + "▓" + strings.Repeat("░", empty)
	} else {
		bar = strings.Repeat("█", filled) + strings.Repeat("░", empty)
	}
	return "[" + bar + "]"
}

func usageColor(pct float64) string {
	switch {
	case pct >= 90:
		return "\033[91m"
	case pct >= 75:
		return "\033[93m"
	case pct >= 50:
		return "\033[94m"
	}
	return "\033[92m"
}

func formatLocalDateTime(t time.Time) string {
	local := t.Local()
	return fmt.Sprintf("%s %s", local.Format("Jan 02, 2006 15:04"), local.Format("MST"))
}

func formatResetDuration(d time.Duration) string {
	v := max(int(d/time.Second), 0)
	days := v / 86400
	v %= 86400
	hours := v / 3600
	v %= 3600
	minutes := v / 60
	v %= 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 && v > 0 {
		parts = append(parts, fmt.Sprintf("%ds", v))
	}
	if len(parts) == 0 {
		parts = append(parts, "0s")
	}
	return strings.Join(parts, " ")
}
