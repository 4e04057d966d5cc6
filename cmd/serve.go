package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/altair-labs/salesagent/internal/agent"
	"github.com/altair-labs/salesagent/internal/ai"
	"github.com/altair-labs/salesagent/internal/broker"
	"github.com/altair-labs/salesagent/internal/buffer"
	"github.com/altair-labs/salesagent/internal/config"
	"github.com/altair-labs/salesagent/internal/followup"
	"github.com/altair-labs/salesagent/internal/gateway"
	"github.com/altair-labs/salesagent/internal/httpapi"
	"github.com/altair-labs/salesagent/internal/knowledge"
	"github.com/altair-labs/salesagent/internal/sender"
	"github.com/altair-labs/salesagent/internal/store/pg"
	"github.com/altair-labs/salesagent/internal/timeutil"
	"github.com/altair-labs/salesagent/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the message pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := pg.NewStores(cfg.Database.PostgresDSN, cfg.Database.MaxOpenConns)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// Consumers block on their own channels; publishing shares the ingest
	// client's connection.
	queues := []string{cfg.Broker.IncomingQueue, cfg.Broker.OutgoingQueue}
	ingestBroker := broker.New(cfg.Broker.URL, cfg.Broker.ConnectRetries, queues...)
	outBroker := broker.New(cfg.Broker.URL, cfg.Broker.ConnectRetries, queues...)
	if err := ingestBroker.Connect(); err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer ingestBroker.Close()
	defer outBroker.Close()

	inference := ai.NewClient(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.APIBase)
	gw := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.ProfileID)
	kb := knowledge.NewLoader(cfg.Knowledge.Dir, cfg.Knowledge.MaxChars)
	prompts := agent.LoadPrompts(cfg.Prompts.Dir)

	biz, err := timeutil.NewBusiness(cfg.Hours.Timezone, cfg.Hours.Start, cfg.Hours.End)
	if err != nil {
		slog.Error("invalid working hours", "error", err)
		os.Exit(1)
	}

	buf := buffer.New(cfg.DebounceTimeout(), cfg.Buffer.MaxMessages)
	defer buf.Stop()

	router := agent.NewRouter(stores, inference, ingestBroker, cfg.Broker.OutgoingQueue,
		kb, prompts, biz, cfg.AI.MaxContextMessages)

	ingest := worker.New(ingestBroker, buf, stores, router, cfg.Broker.IncomingQueue)
	outbound := sender.New(outBroker, gw, cfg.Broker.OutgoingQueue,
		cfg.Sender.MessagesPerMinute, cfg.Sender.MaxRetries)
	api := httpapi.New(fmt.Sprintf("%s:%d", cfg.Health.Host, cfg.Health.Port),
		stores, ingestBroker, buf, queues...)

	errs := make(chan error, 3)
	go func() { errs <- ingest.Run(ctx) }()
	go func() { errs <- outbound.Run(ctx) }()
	go func() { errs <- api.Run(ctx) }()

	if cfg.FollowUp.Enabled {
		sched := followup.New(stores, inference, ingestBroker, cfg.Broker.OutgoingQueue,
			prompts, biz,
			time.Duration(cfg.FollowUp.PollSeconds)*time.Second,
			time.Duration(cfg.FollowUp.StartAfterHrs)*time.Hour,
			cfg.FollowUpIntervals())
		go sched.Run(ctx)
	} else {
		slog.Info("follow-up scheduler disabled")
	}

	go runBufferSweep(ctx, buf, cfg.Buffer.SweepCron)

	slog.Info("salesagent started", "version", Version,
		"incoming_queue", cfg.Broker.IncomingQueue, "outgoing_queue", cfg.Broker.OutgoingQueue)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errs:
		if err != nil {
			slog.Error("pipeline component failed", "error", err)
			stop()
			os.Exit(1)
		}
	}
}

// runBufferSweep drops long-empty buffer entries on a cron schedule.
func runBufferSweep(ctx context.Context, buf *buffer.Buffer, expr string) {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		slog.Warn("invalid sweep cron expression, sweep disabled", "expr", expr)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(expr, now)
			if err != nil || !due {
				continue
			}
			if n := buf.Sweep(); n > 0 {
				slog.Info("buffer sweep removed idle entries", "removed", n)
			}
		}
	}
}
