// Package keeper drives the raffle on a schedule: it polls the upkeep gate,
// performs upkeep when due, and on development networks lets the mock
// coordinator answer outstanding requests.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"RaffleKeeper/internal/model"
	"RaffleKeeper/internal/notifier"
	"RaffleKeeper/internal/raffle"
	"RaffleKeeper/internal/recorder"
	"RaffleKeeper/internal/vrf"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Oracle answers outstanding randomness requests.
type Oracle interface {
	FulfillPending(ctx context.Context) ([]*vrf.Fulfillment, error)
}

// Keeper manages the cron tasks around one raffle.
type Keeper struct {
	Cron     *cron.Cron
	Raffle   *raffle.Raffle
	Oracle   Oracle // nil on live networks
	Recorder recorder.Recorder
	Ctx      context.Context
}

// NewKeeper creates a Keeper. Overlapping runs of the same task are skipped.
func NewKeeper(ctx context.Context, r *raffle.Raffle, oracle Oracle, rec recorder.Recorder) *Keeper {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Keeper{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		Raffle:   r,
		Oracle:   oracle,
		Recorder: rec,
		Ctx:      ctx,
	}
}

// RegisterAll registers the upkeep task and, when an oracle is set, the
// fulfillment task.
func (k *Keeper) RegisterAll(upkeepCron, oracleCron string) error {
	if _, err := k.Cron.AddFunc(upkeepCron, k.upkeepTask); err != nil {
		return fmt.Errorf("register upkeep task: %w", err)
	}
	if k.Oracle != nil {
		if _, err := k.Cron.AddFunc(oracleCron, k.oracleTask); err != nil {
			return fmt.Errorf("register oracle task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (k *Keeper) Start() {
	k.Cron.Start()
	log.Println("[INFO] keeper started")
}

// Stop stops the cron scheduler and waits for running tasks to finish.
func (k *Keeper) Stop() {
	<-k.Cron.Stop().Done()
	log.Println("[INFO] keeper stopped")
}

// RunUpkeep checks the gate and performs upkeep if it is open. It returns
// a nil request id when no upkeep was needed.
func (k *Keeper) RunUpkeep(ctx context.Context) (*big.Int, error) {
	needed, err := k.Raffle.CheckUpkeep(ctx)
	if err != nil {
		return nil, fmt.Errorf("check upkeep: %w", err)
	}
	if !needed {
		return nil, nil
	}
	reqID, err := k.Raffle.PerformUpkeep(ctx, nil)
	if errors.Is(err, raffle.ErrUpkeepNotNeeded) {
		// Lost the race against another keeper.
		log.Printf("[INFO] upkeep no longer needed: %v", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("perform upkeep: %w", err)
	}
	return reqID, nil
}

// RunOracle fulfills every request whose confirmations have elapsed.
func (k *Keeper) RunOracle(ctx context.Context) ([]*vrf.Fulfillment, error) {
	if k.Oracle == nil {
		return nil, nil
	}
	return k.Oracle.FulfillPending(ctx)
}

func (k *Keeper) upkeepTask() {
	reqID, err := k.RunUpkeep(k.Ctx)
	if err != nil {
		log.Printf("[ERROR] upkeep: %v", err)
		return
	}
	if reqID != nil {
		log.Printf("[INFO] upkeep performed, request %s", reqID)
	}
}

func (k *Keeper) oracleTask() {
	fulfilled, err := k.RunOracle(k.Ctx)
	if err != nil {
		log.Printf("[ERROR] fulfill pending requests: %v", err)
		return
	}
	for _, f := range fulfilled {
		if !f.Success {
			log.Printf("[WARN] request %s fulfilled without effect: %v", f.RequestID, f.Err)
		}
	}
}

// HandleCommand processes a user command and returns a reply.
func (k *Keeper) HandleCommand(command string) string {
	switch command {
	case "/status":
		s, err := k.Raffle.Status(k.Ctx)
		if err != nil {
			return fmt.Sprintf("❌ status unavailable: %v", err)
		}
		return notifier.FormatStatus(s)
	case "/players":
		s, err := k.Raffle.Status(k.Ctx)
		if err != nil {
			return fmt.Sprintf("❌ status unavailable: %v", err)
		}
		return notifier.FormatPlayers(s)
	case "/winner", "/history":
		events, err := k.Recorder.RecentEvents(model.EventWinnerPicked, 5)
		if err != nil {
			return fmt.Sprintf("❌ history unavailable: %v", err)
		}
		if len(events) == 0 {
			// No history kept; fall back to the last winner on record.
			winner, err := k.Raffle.RecentWinner(k.Ctx)
			if err == nil && winner != (common.Address{}) {
				return fmt.Sprintf("🏆 Recent winner: <code>%s</code>", winner.Hex())
			}
		}
		return notifier.FormatHistory(events)
	default:
		return "Available commands:\n• /status\n• /players\n• /winner"
	}
}
