package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verdantly/footprint-cli/internal/aggregate"
	"github.com/verdantly/footprint-cli/internal/queue"
)

var workerFlags struct {
	concurrency int
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the recalculation worker pool until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		concurrency := workerFlags.concurrency
		if concurrency == 0 {
			concurrency = cfg.Queue.Concurrency
		}

		svc := queue.NewService(st)
		worker := queue.NewWorker(svc,
			queue.NewRecalcProcessor(st, aggregate.New()),
			queue.WorkerOptions{
				Concurrency:   concurrency,
				PollRate:      rate.Every(pollInterval(cfg.Queue.PollInterval)),
				Lease:         cfg.Queue.Lease,
				SweepInterval: cfg.Queue.SweepInterval,
			})

		zap.L().Info("worker pool starting", zap.Int("concurrency", concurrency))
		return worker.Run(ctx)
	},
}

func pollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

func init() {
	workerCmd.Flags().IntVar(&workerFlags.concurrency, "concurrency", 0, "worker goroutines (default from config)")
	rootCmd.AddCommand(workerCmd)
}
