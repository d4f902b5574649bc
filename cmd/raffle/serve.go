package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"RaffleKeeper/internal/config"
	"RaffleKeeper/internal/keeper"
	"RaffleKeeper/internal/metrics"
	"RaffleKeeper/internal/notifier"
	"RaffleKeeper/internal/raffle"
	"RaffleKeeper/internal/recorder"
	"RaffleKeeper/internal/units"
	"RaffleKeeper/internal/vrf"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var runOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the keeper and the local randomness coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg, runOnStart || os.Getenv("RUN_ON_START") == "true")
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "run the upkeep task once at startup")
	return cmd
}

// newMockCoordinator deploys the local coordinator and a funded subscription.
func newMockCoordinator(cfg *config.Config) (*vrf.MockCoordinator, uint64, error) {
	baseFee, err := units.ParseEther(cfg.VRF.Mock.BaseFee)
	if err != nil {
		return nil, 0, fmt.Errorf("base fee: %w", err)
	}
	gasPrice, err := units.ParseEther(cfg.VRF.Mock.GasPriceLink)
	if err != nil {
		return nil, 0, fmt.Errorf("gas price link: %w", err)
	}
	fund, err := units.ParseEther(cfg.VRF.Mock.FundAmount)
	if err != nil {
		return nil, 0, fmt.Errorf("fund amount: %w", err)
	}

	mock := vrf.NewMockCoordinator(baseFee, gasPrice, cfg.VRF.Mock.BlockTime)
	subID := mock.CreateSubscription()
	if err := mock.FundSubscription(subID, fund); err != nil {
		return nil, 0, fmt.Errorf("fund subscription: %w", err)
	}
	log.Printf("[INFO] mock coordinator deployed, subscription %d funded with %s LINK", subID, units.FormatEther(fund))
	return mock, subID, nil
}

func serve(cfg *config.Config, runOnStart bool) error {
	if !cfg.IsDevelopment() {
		return fmt.Errorf("network %s has no local coordinator; serve only runs on development networks", cfg.Network)
	}
	log.Printf("[INFO] RaffleKeeper starting on %s...", cfg.Network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, subID, err := newMockCoordinator(cfg)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rec := openRecorder(cfg)
	defer rec.Close()

	m := metrics.New(nil)
	opts := []raffle.Option{
		raffle.WithSink(recorder.Sink{Recorder: rec}),
		raffle.WithSink(m),
	}

	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		opts = append(opts, raffle.WithSink(tn))
	}

	rc, err := raffleConfig(cfg, subID)
	if err != nil {
		return err
	}
	r, err := raffle.New(ctx, rc, st, mock, opts...)
	if err != nil {
		return fmt.Errorf("init raffle: %w", err)
	}
	if err := mock.AddConsumer(subID, r); err != nil {
		return fmt.Errorf("add consumer: %w", err)
	}

	status, err := r.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if status.Pending != nil {
		log.Printf("[WARN] round %d is waiting on request %s issued by a previous run; it will not be fulfilled",
			status.Round, status.Pending.RequestID)
	}
	log.Printf("[INFO] round %d %s, %d players, entrance fee %s ETH, interval %s",
		status.Round, status.State, len(status.Players), units.FormatEther(status.EntranceFee), status.Interval)

	k := keeper.NewKeeper(ctx, r, mock, rec)
	if err := k.RegisterAll(cfg.Schedule.UpkeepCron, cfg.Schedule.OracleCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	k.Start()
	defer k.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, k.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	go m.Run(ctx, cfg.Metrics.LogInterval)

	if runOnStart {
		log.Println("[INFO] run on start enabled, executing upkeep now")
		go func() {
			if _, err := k.RunUpkeep(ctx); err != nil {
				log.Printf("[ERROR] upkeep: %v", err)
			}
		}()
	}

	log.Println("[INFO] RaffleKeeper is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] RaffleKeeper stopped")
	return nil
}
