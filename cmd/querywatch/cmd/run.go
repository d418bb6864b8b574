package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/querywatch/querywatch/internal/config"
	"github.com/querywatch/querywatch/internal/logging"
	"github.com/querywatch/querywatch/internal/monitor"
	"github.com/querywatch/querywatch/internal/query"
	"github.com/querywatch/querywatch/internal/store"
)

// matchOutput is one line of run output.
type matchOutput struct {
	Doc      int      `json:"doc"`
	Matches  []string `json:"matches"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newRunCmd() *cobra.Command {
	var queriesPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register queries and match documents from stdin",
		Long: `Run a monitor: register the queries listed in --queries, then read one
JSON document per line from stdin ({"field": "text", ...}) and print the
matching query ids per document as JSON lines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), queriesPath)
		},
	}

	cmd.Flags().StringVarP(&queriesPath, "queries", "q", "", "Path to queries file (required)")
	_ = cmd.MarkFlagRequired("queries")
	return cmd
}

func runMonitor(parent context.Context, queriesPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, reg, err := buildMonitor(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = mon.Close() }()

	if cfg.Server.MetricsAddr != "" {
		srv := startMetricsServer(cfg.Server.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			cancel()
		}()
	}

	if err := registerQueriesFromFile(ctx, mon, queriesPath); err != nil {
		return err
	}
	if err := mon.Flush(ctx); err != nil {
		return err
	}
	count, _ := mon.QueryCount()
	logger.Info("queries_loaded", slog.Uint64("count", count))

	return matchLoop(ctx, mon)
}

func buildMonitor(cfg config.Config, logger *slog.Logger) (*monitor.Monitor, *prometheus.Registry, error) {
	interval, err := cfg.PurgeInterval()
	if err != nil {
		return nil, nil, err
	}
	serializer, err := query.SerializerByName(cfg.Serializer)
	if err != nil {
		return nil, nil, err
	}

	backend := store.MemBackend()
	if cfg.Storage.Path != "" {
		backend = store.FSBackend(cfg.Storage.Path)
	}
	st, err := store.NewBleveStore(backend, cfg.ReadOnly, logger)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	mon, err := monitor.New(monitor.Config{
		BufferSize:       cfg.BufferSize,
		PurgeFrequency:   interval,
		MaxClauseTerms:   cfg.MaxClauseTerms,
		DecodeCacheSize:  cfg.DecodeCacheSize,
		MatchParallelism: cfg.MatchParallelism,
		ReadOnly:         cfg.ReadOnly,
	},
		monitor.WithStore(st),
		monitor.WithSerializer(serializer),
		monitor.WithLogger(logger),
		monitor.WithRegisterer(reg),
	)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return mon, reg, nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics_listening", slog.String("addr", addr))
	return srv
}

// registerQueriesFromFile reads one query per line:
//
//	<id>	<field>:<term> [AND|OR <field>:<term> ...] [NOT <field>:<term> ...]
//
// Lines starting with '#' and blank lines are skipped. This tiny format
// exists for the CLI only; library callers construct ASTs directly.
func registerQueriesFromFile(ctx context.Context, mon *monitor.Monitor, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open queries file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	var queries []query.MonitorQuery
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, expr, ok := strings.Cut(line, "\t")
		if !ok {
			return fmt.Errorf("queries file line %d: expected '<id>\\t<expr>'", lineNo)
		}
		node, err := parseExpr(expr)
		if err != nil {
			return fmt.Errorf("queries file line %d: %w", lineNo, err)
		}
		queries = append(queries, query.MonitorQuery{
			ID:       strings.TrimSpace(id),
			Query:    node,
			Metadata: map[string]string{"source": path},
		})
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err = mon.Register(ctx, queries...)
	return err
}

// parseExpr parses the single-level CLI query expression.
func parseExpr(expr string) (query.Node, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty query expression")
	}

	b := &query.Boolean{}
	op := ""
	negate := false
	for _, tok := range fields {
		switch tok {
		case "AND", "OR":
			if op != "" && op != tok {
				return nil, fmt.Errorf("cannot mix AND and OR in one expression")
			}
			op = tok
			continue
		case "NOT":
			negate = true
			continue
		}
		field, text, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("term %q is not of the form field:text", tok)
		}
		term := query.NewTerm(field, strings.ToLower(text))
		switch {
		case negate:
			b.MustNot = append(b.MustNot, term)
		case op == "OR":
			b.Should = append(b.Should, term)
		default:
			b.Must = append(b.Must, term)
		}
	}
	if len(b.Must) == 0 && len(b.Should) == 0 {
		return nil, fmt.Errorf("expression has no positive terms")
	}
	// An OR expression collects into Should; move a lone leading term there.
	if op == "OR" && len(b.Must) == 1 {
		b.Should = append([]query.Node{b.Must[0]}, b.Should...)
		b.Must = nil
	}
	return b, nil
}

func matchLoop(ctx context.Context, mon *monitor.Monitor) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	out := json.NewEncoder(os.Stdout)
	docNo := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		docNo++
		var doc query.Document
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			_ = out.Encode(matchOutput{Doc: docNo, Error: "invalid document: " + err.Error()})
			continue
		}
		matches, err := mon.Match(ctx, doc)
		if err != nil {
			_ = out.Encode(matchOutput{Doc: docNo, Error: err.Error()})
			continue
		}
		ids := matches.QueryIDs()
		if ids == nil {
			ids = []string{}
		}
		_ = out.Encode(matchOutput{Doc: docNo, Matches: ids, Warnings: matches.Warnings})
	}
	return scanner.Err()
}
