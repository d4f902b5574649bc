package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"RaffleKeeper/internal/config"
	"RaffleKeeper/internal/raffle"
	"RaffleKeeper/internal/recorder"
	"RaffleKeeper/internal/store"
	"RaffleKeeper/internal/vrf"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "raffle",
		Short:        "Verifiably random lottery with an interval-driven keeper",
		SilenceUsage: true,
	}

	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultPath, "path to the YAML config")

	root.AddCommand(
		newServeCmd(),
		newEnterCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newBalanceCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Database.SQLitePath)
	case "file":
		return store.NewFileStore(cfg.Database.StateFile)
	default:
		return store.NewMemoryStore(), nil
	}
}

// openRecorder falls back to the noop recorder when history can't be kept.
func openRecorder(cfg *config.Config) recorder.Recorder {
	if cfg.Database.Driver != "sqlite" || cfg.Database.RecorderPath == "" {
		return recorder.NewNoopRecorder()
	}
	sr, err := recorder.NewSQLiteRecorder(cfg.Database.RecorderPath)
	if err != nil {
		log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
		return recorder.NewNoopRecorder()
	}
	return sr
}

func raffleConfig(cfg *config.Config, subID uint64) (raffle.Config, error) {
	fee, err := cfg.EntranceFee()
	if err != nil {
		return raffle.Config{}, err
	}
	keyHash, err := cfg.KeyHash()
	if err != nil {
		return raffle.Config{}, err
	}
	return raffle.Config{
		EntranceFee:          fee,
		Interval:             cfg.Raffle.Interval,
		KeyHash:              keyHash,
		SubscriptionID:       subID,
		RequestConfirmations: cfg.VRF.RequestConfirmations,
		CallbackGasLimit:     cfg.VRF.CallbackGasLimit,
		NumWords:             cfg.VRF.NumWords,
	}, nil
}

// openClient opens a raffle without a coordinator, for commands that only
// enter or read. These run in their own process, so they need a store that
// is shared with serve.
func openClient(ctx context.Context, cfg *config.Config, opts ...raffle.Option) (*raffle.Raffle, store.Store, error) {
	if cfg.Database.Driver == "memory" {
		return nil, nil, fmt.Errorf("database.driver memory is private to serve; use sqlite or file")
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	rc, err := raffleConfig(cfg, cfg.VRF.SubscriptionID)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	var coord vrf.Coordinator
	r, err := raffle.New(ctx, rc, st, coord, opts...)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return r, st, nil
}
