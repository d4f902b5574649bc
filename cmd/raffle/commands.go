package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"RaffleKeeper/internal/model"
	"RaffleKeeper/internal/raffle"
	"RaffleKeeper/internal/recorder"
	"RaffleKeeper/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func newEnterCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "enter <address>",
		Short: "Enter the open round, paying the entrance fee by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec := openRecorder(cfg)
			defer rec.Close()

			ctx := context.Background()
			r, st, err := openClient(ctx, cfg, raffle.WithSink(recorder.Sink{Recorder: rec}))
			if err != nil {
				return err
			}
			defer st.Close()

			paid := r.EntranceFee()
			if value != "" {
				if paid, err = units.ParseEther(value); err != nil {
					return fmt.Errorf("value: %w", err)
				}
			}
			if err := r.Enter(ctx, player, paid); err != nil {
				return err
			}
			n, err := r.NumberOfPlayers(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entered %s with %s ETH, %d players in the round\n",
				player.Hex(), units.FormatEther(paid), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "amount to pay in ether (or <n>wei); defaults to the entrance fee")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			r, st, err := openClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := r.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatStatus(s))
			return nil
		},
	}
}

func formatStatus(s *raffle.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "round:          %d\n", s.Round)
	fmt.Fprintf(&b, "state:          %s\n", s.State)
	fmt.Fprintf(&b, "players:        %d\n", len(s.Players))
	for i, p := range s.Players {
		fmt.Fprintf(&b, "  [%d] %s\n", i, p.Hex())
	}
	fmt.Fprintf(&b, "pot:            %s ETH\n", units.FormatEther(s.Pot))
	fmt.Fprintf(&b, "entrance fee:   %s ETH\n", units.FormatEther(s.EntranceFee))
	fmt.Fprintf(&b, "interval:       %s\n", s.Interval)
	fmt.Fprintf(&b, "last settled:   %s\n", s.LastSettledAt.Format("2006-01-02 15:04:05"))
	if s.RecentWinner != (common.Address{}) {
		fmt.Fprintf(&b, "recent winner:  %s\n", s.RecentWinner.Hex())
	}
	if s.Pending != nil {
		fmt.Fprintf(&b, "pending:        request %s\n", s.Pending.RequestID)
	}
	fmt.Fprintf(&b, "upkeep needed:  %v\n", s.UpkeepNeeded)
	return b.String()
}

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		kind  string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded raffle events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec := openRecorder(cfg)
			defer rec.Close()

			events, err := rec.RecentEvents(model.EventKind(strings.ToUpper(kind)), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "no events recorded")
				return nil
			}
			for _, ev := range events {
				fmt.Fprintln(out, formatEvent(ev))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	cmd.Flags().StringVar(&kind, "kind", "", "only show ENTRY_RECORDED, REQUESTED_RANDOMNESS or WINNER_PICKED")
	return cmd
}

func formatEvent(ev *model.Event) string {
	at := ev.At.Format("2006-01-02 15:04:05")
	switch ev.Kind {
	case model.EventEntryRecorded:
		return fmt.Sprintf("%s round %d entry %s (players %d, pot %s ETH)",
			at, ev.Round, ev.Player.Hex(), ev.Players, units.FormatEther(ev.Pot))
	case model.EventRequestedRandomness:
		return fmt.Sprintf("%s round %d requested randomness, request %s", at, ev.Round, ev.RequestID)
	case model.EventWinnerPicked:
		return fmt.Sprintf("%s round %d winner %s paid %s ETH", at, ev.Round, ev.Winner.Hex(), units.FormatEther(ev.Amount))
	default:
		return fmt.Sprintf("%s round %d %s", at, ev.Round, ev.Kind)
	}
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Show the winnings credited to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			r, st, err := openClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			bal, err := r.Balance(ctx, addr)
			if err != nil {
				return err
			}
			if bal == nil {
				bal = new(big.Int)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s ETH\n", addr.Hex(), units.FormatEther(bal))
			return nil
		},
	}
}
