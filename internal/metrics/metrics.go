// Package metrics tracks raffle activity in a go-metrics registry.
package metrics

import (
	"context"
	"log"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"RaffleKeeper/internal/model"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/shopspring/decimal"
)

const (
	EntriesName     = "raffle.entries"
	RequestsName    = "raffle.requests"
	SettlementsName = "raffle.settlements"
	PlayersName     = "raffle.players"
	PotName         = "raffle.pot_eth"
	PaidOutName     = "raffle.paid_out_eth"
	RoundName       = "raffle.round"
)

// Metrics is a raffle event sink backed by a go-metrics registry.
type Metrics struct {
	Registry gometrics.Registry

	mu sync.Mutex // guards paidOut

	entries     gometrics.Counter
	requests    gometrics.Counter
	settlements gometrics.Counter
	players     gometrics.Gauge
	round       gometrics.Gauge
	pot         gometrics.GaugeFloat64
	paidOut     gometrics.GaugeFloat64
}

// New registers the raffle metrics in r, or in a fresh registry if r is nil.
func New(r gometrics.Registry) *Metrics {
	if r == nil {
		r = gometrics.NewRegistry()
	}
	return &Metrics{
		Registry:    r,
		entries:     gometrics.NewRegisteredCounter(EntriesName, r),
		requests:    gometrics.NewRegisteredCounter(RequestsName, r),
		settlements: gometrics.NewRegisteredCounter(SettlementsName, r),
		players:     gometrics.NewRegisteredGauge(PlayersName, r),
		round:       gometrics.NewRegisteredGauge(RoundName, r),
		pot:         gometrics.NewRegisteredGaugeFloat64(PotName, r),
		paidOut:     gometrics.NewRegisteredGaugeFloat64(PaidOutName, r),
	}
}

// Publish updates the metrics for ev.
func (m *Metrics) Publish(ev *model.Event) {
	m.round.Update(int64(ev.Round))
	switch ev.Kind {
	case model.EventEntryRecorded:
		m.entries.Inc(1)
		m.players.Update(int64(ev.Players))
		m.pot.Update(ether(ev.Pot))
	case model.EventRequestedRandomness:
		m.requests.Inc(1)
	case model.EventWinnerPicked:
		m.settlements.Inc(1)
		m.players.Update(0)
		m.pot.Update(0)
		m.mu.Lock()
		m.paidOut.Update(m.paidOut.Value() + ether(ev.Amount))
		m.mu.Unlock()
		m.round.Update(int64(ev.Round + 1))
	}
}

// Run logs a snapshot of the registry every interval until ctx is done.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.LogSnapshot()
		}
	}
}

// LogSnapshot writes one line per metric, sorted by name.
func (m *Metrics) LogSnapshot() {
	for _, line := range m.Snapshot() {
		log.Printf("[INFO] metric %s", line)
	}
}

// Snapshot renders every registered metric as "name value".
func (m *Metrics) Snapshot() []string {
	var lines []string
	m.Registry.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case gometrics.Counter:
			lines = append(lines, name+" "+strconv.FormatInt(metric.Count(), 10))
		case gometrics.Gauge:
			lines = append(lines, name+" "+strconv.FormatInt(metric.Value(), 10))
		case gometrics.GaugeFloat64:
			lines = append(lines, name+" "+strconv.FormatFloat(metric.Value(), 'f', -1, 64))
		}
	})
	sort.Strings(lines)
	return lines
}

func ether(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(wei, -18).Float64()
	return f
}
