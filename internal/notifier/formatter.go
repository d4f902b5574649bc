package notifier

import (
	"fmt"
	"strings"
	"time"

	"RaffleKeeper/internal/model"
	"RaffleKeeper/internal/raffle"
	"RaffleKeeper/internal/units"

	"github.com/ethereum/go-ethereum/common"
)

// FormatWinner formats a settled round into a Telegram message.
func FormatWinner(ev *model.Event) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🏆 <b>Round %d settled</b>\n\n", ev.Round))
	b.WriteString(fmt.Sprintf("Winner: <code>%s</code>\n", ev.Winner.Hex()))
	b.WriteString(fmt.Sprintf("Prize: %s ETH\n", units.FormatEther(ev.Amount)))
	if ev.RequestID != nil {
		b.WriteString(fmt.Sprintf("Request: #%s\n", ev.RequestID.String()))
	}
	b.WriteString(fmt.Sprintf("Time: %s\n", ev.At.Format("2006-01-02 15:04:05")))
	return b.String()
}

// FormatRequested formats an issued randomness request.
func FormatRequested(ev *model.Event) string {
	return fmt.Sprintf("🎲 Round %d closed, waiting for randomness (request #%s)", ev.Round, ev.RequestID.String())
}

// FormatStatus formats a raffle status snapshot for display.
func FormatStatus(s *raffle.Status) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>Raffle round %d</b>\n\n", s.Round))
	b.WriteString(fmt.Sprintf("State: %s\n", s.State))
	b.WriteString(fmt.Sprintf("Players: %d\n", len(s.Players)))
	b.WriteString(fmt.Sprintf("Pot: %s ETH\n", units.FormatEther(s.Pot)))
	b.WriteString(fmt.Sprintf("Entrance fee: %s ETH\n", units.FormatEther(s.EntranceFee)))
	b.WriteString(fmt.Sprintf("Interval: %s\n", s.Interval))
	b.WriteString(fmt.Sprintf("Last settled: %s\n", s.LastSettledAt.Format("2006-01-02 15:04:05")))
	if s.RecentWinner != (common.Address{}) {
		b.WriteString(fmt.Sprintf("Recent winner: <code>%s</code>\n", s.RecentWinner.Hex()))
	}
	if s.Pending != nil {
		b.WriteString(fmt.Sprintf("Pending request: #%s (since %s)\n",
			s.Pending.RequestID.String(), s.Pending.RequestedAt.Format(time.Kitchen)))
	}
	b.WriteString(fmt.Sprintf("Upkeep needed: %v\n", s.UpkeepNeeded))
	return b.String()
}

// FormatPlayers lists the entries of the current round in slot order.
func FormatPlayers(s *raffle.Status) string {
	if len(s.Players) == 0 {
		return fmt.Sprintf("Round %d has no players yet", s.Round)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🎟 <b>Round %d players</b>\n\n", s.Round))
	for i, p := range s.Players {
		b.WriteString(fmt.Sprintf("%d. <code>%s</code>\n", i, p.Hex()))
	}
	return b.String()
}

// FormatHistory formats recent winners, newest first.
func FormatHistory(events []*model.Event) string {
	if len(events) == 0 {
		return "No winners yet"
	}
	var b strings.Builder
	b.WriteString("📜 <b>Recent winners</b>\n\n")
	for _, ev := range events {
		b.WriteString(fmt.Sprintf("#%d <code>%s</code> %s ETH (%s)\n",
			ev.Round, ev.Winner.Hex(), units.FormatEther(ev.Amount), ev.At.Format("2006-01-02 15:04")))
	}
	return b.String()
}
