package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wakafine/ticketqr/api"
	"github.com/wakafine/ticketqr/bridge"
	"github.com/wakafine/ticketqr/cache"
	"github.com/wakafine/ticketqr/config"
	"github.com/wakafine/ticketqr/encoder"
	"github.com/wakafine/ticketqr/notify"
	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/store"
	"github.com/wakafine/ticketqr/ticket"
	"github.com/wakafine/ticketqr/ticketpdf"
)

var version = "v0.1.0"

func main() {
	root := &cobra.Command{
		Use:          "ticketqr",
		Short:        "Bus ticket QR codes: render, print and deliver",
		SilenceUsage: true,
	}

	// --- serve command -------------------------------------------------------
	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ticket HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
	root.AddCommand(serveCmd)

	// --- render command ------------------------------------------------------
	root.AddCommand(newRenderCmd())

	// --- pnr command ---------------------------------------------------------
	var count int
	pnrCmd := &cobra.Command{
		Use:   "pnr",
		Short: "Generate booking references",
		Run: func(cmd *cobra.Command, args []string) {
			for i := 0; i < max(count, 1); i++ {
				fmt.Fprintln(cmd.OutOrStdout(), ticket.NewPNR())
			}
		},
	}
	pnrCmd.Flags().IntVarP(&count, "count", "n", 1, "Number of references to print")
	root.AddCommand(pnrCmd)

	// --- status command ------------------------------------------------------
	var statusAddr string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check a running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), statusAddr)
		},
	}
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8556", "Service HTTP address")
	root.AddCommand(statusCmd)

	// --- version command -----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ticketqr %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// runServe is the service entrypoint that wires all components together.
func runServe(configPath string) error {
	// 1. Config and logger
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	log := newLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)
	log.Info("starting ticketqr", "version", version, "port", cfg.Port, "data_dir", cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Ticket store
	tickets, err := store.NewTicketStore(filepath.Join(cfg.DataDir, "tickets.db"))
	if err != nil {
		return fmt.Errorf("open ticket store: %w", err)
	}
	defer tickets.Close()

	// 3. Encoders. They are installed once the cache is settled; renders that
	// arrive earlier wait on the registry.
	primary, err := encoder.New(cfg.Render.Format)
	if err != nil {
		return err
	}
	pages := render.NewRegistry()
	images := render.NewRegistry()
	go installEncoders(ctx, cfg, log, map[*render.Registry]render.Encoder{
		pages:  primary,
		images: encoder.PNG{},
	})

	// 4. Renderers and their observers
	webhook := notify.NewWebhookSender(cfg.WebhookURL, log)
	logRender := func(o render.Outcome) {
		if err := tickets.LogRender(context.Background(), o); err != nil {
			log.Warn("render log failed", "job_id", o.JobID, "error", err)
		}
	}

	rcfg := cfg.RendererConfig()
	pageRenderer := render.New(pages, rcfg, log)
	imageRenderer := render.New(images, rcfg, log)
	for _, r := range []*render.Renderer{pageRenderer, imageRenderer} {
		r.OnComplete(logRender)
		r.OnComplete(webhook.Observer())
	}

	srvDeps := &api.Server{
		Renderer:  pageRenderer,
		Images:    imageRenderer,
		Tickets:   tickets,
		PDF:       ticketpdf.NewBuilder(imageRenderer),
		Pairing:   encoder.PNG{},
		Log:       log,
		Version:   version,
		StartTime: time.Now(),
	}

	// 5. WhatsApp delivery
	var wa *bridge.Client
	if cfg.WhatsApp.Enabled {
		wa, err = bridge.NewClient(ctx, cfg.DataDir, log)
		if err != nil {
			return fmt.Errorf("create whatsapp client: %w", err)
		}
		if err := wa.Connect(ctx); err != nil {
			log.Warn("whatsapp connect failed", "error", err)
		}
		if cfg.WhatsApp.AutoReconnect {
			bridge.StartReconnectLoop(ctx, wa, cfg.WhatsApp.ReconnectInterval.Duration, log)
		}
		srvDeps.WhatsApp = wa
		srvDeps.Delivery = bridge.NewDelivery(imageRenderer, wa, log)
		log.Info("whatsapp delivery enabled", "pairing_url", fmt.Sprintf("http://localhost:%d/whatsapp/qr", cfg.Port))
	}

	// 6. HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(srvDeps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// 7. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	cancel()
	if wa != nil {
		wa.Disconnect()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	log.Info("goodbye")
	return nil
}

// installEncoders connects the artifact cache, when configured, and installs
// each encoder into its registry. A cache that cannot be reached is skipped.
func installEncoders(ctx context.Context, cfg *config.Config, log *slog.Logger, encoders map[*render.Registry]render.Encoder) {
	var artifacts render.ArtifactCache
	rc, err := cache.New(ctx, cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL.Duration,
	})
	switch {
	case err != nil:
		log.Warn("artifact cache disabled", "error", err)
	case rc != nil:
		artifacts = rc
		log.Info("artifact cache connected", "addr", cfg.Redis.Addr)
		go func() {
			<-ctx.Done()
			rc.Close()
		}()
	}

	for reg, enc := range encoders {
		reg.Install(&render.CachingEncoder{Next: enc, Cache: artifacts, Log: log})
	}
	log.Info("qr encoders ready")
}

// runStatus queries the service status endpoint.
func runStatus(w io.Writer, addr string) error {
	resp, err := http.Get(addr + "/status")
	if err != nil {
		return fmt.Errorf("failed to reach service at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Fprintln(w, string(out))
	return nil
}
