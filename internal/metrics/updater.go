package metrics

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nehcuh/cherryquant/internal/agent"
	"github.com/nehcuh/cherryquant/internal/journal"
	"github.com/nehcuh/cherryquant/internal/risk"
)

// FleetSource is the slice of the manager the updater reads
type FleetSource interface {
	Statuses() []agent.Status
}

// RiskSource is the slice of the risk manager the updater reads
type RiskSource interface {
	Status(ctx context.Context) (risk.Status, error)
}

// seenLimit bounds the decision-id dedupe set. The journal republishes
// a record when its settlement arrives, and the counter must not count
// it twice.
const seenLimit = 4096

// Updater samples the fleet and portfolio into gauges on an interval
// and counts decision records from the journal stream.
type Updater struct {
	fleet    FleetSource
	risk     RiskSource
	nc       *nats.Conn
	subject  string
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string

	sub  *nats.Subscription
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewUpdater(fleet FleetSource, riskSrc RiskSource, nc *nats.Conn, subject string, interval time.Duration, log zerolog.Logger) *Updater {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Updater{
		fleet:    fleet,
		risk:     riskSrc,
		nc:       nc,
		subject:  subject,
		interval: interval,
		log:      log.With().Str("component", "metrics_updater").Logger(),
		seen:     make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the decision stream and begins sampling. A nil
// NATS connection disables decision counting; the gauges still work.
func (u *Updater) Start() error {
	if u.nc != nil {
		sub, err := u.nc.Subscribe(u.subject+".>", func(m *nats.Msg) {
			u.recordDecision(m.Data)
		})
		if err != nil {
			return err
		}
		u.sub = sub
	}
	go u.loop()
	return nil
}

func (u *Updater) Stop() {
	u.once.Do(func() { close(u.stop) })
	<-u.done
	if u.sub != nil {
		u.sub.Unsubscribe()
	}
}

func (u *Updater) loop() {
	defer close(u.done)
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-u.stop:
			return
		case <-ticker.C:
			u.sample(context.Background())
		}
	}
}

func (u *Updater) recordDecision(data []byte) {
	var rec journal.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		u.log.Warn().Err(err).Msg("Undecodable decision record on stream")
		return
	}

	u.mu.Lock()
	if _, dup := u.seen[rec.DecisionID]; dup {
		u.mu.Unlock()
		return
	}
	u.seen[rec.DecisionID] = struct{}{}
	u.seenOrder = append(u.seenOrder, rec.DecisionID)
	if len(u.seenOrder) > seenLimit {
		delete(u.seen, u.seenOrder[0])
		u.seenOrder = u.seenOrder[1:]
	}
	u.mu.Unlock()

	DecisionsTotal.WithLabelValues(string(rec.Outcome), string(rec.Decision.Source)).Inc()
}

var allStates = []agent.State{
	agent.StateInitializing,
	agent.StateIdle,
	agent.StateThinking,
	agent.StateOrdering,
	agent.StatePaused,
	agent.StateHalted,
	agent.StateTerminated,
}

func (u *Updater) sample(ctx context.Context) {
	statuses := u.fleet.Statuses()

	byState := make(map[agent.State]int, len(allStates))
	openPositions := 0
	realized := 0.0
	for _, st := range statuses {
		byState[st.State]++
		openPositions += len(st.Positions)
		if v, err := strconv.ParseFloat(st.RealizedPnL, 64); err == nil {
			realized += v
		}
	}
	for _, state := range allStates {
		AgentStates.WithLabelValues(string(state)).Set(float64(byState[state]))
	}
	OpenPositions.Set(float64(openPositions))
	RealizedPnL.Set(realized)

	riskStatus, err := u.risk.Status(ctx)
	if err != nil {
		u.log.Warn().Err(err).Msg("Risk status unavailable for sampling")
		return
	}
	CapitalUsage.Set(riskStatus.CapitalUsage)
	PortfolioDailyPnL.Set(riskStatus.DailyPnL)
	PortfolioDrawdown.Set(riskStatus.Drawdown)
	if riskStatus.Halted {
		KillSwitchEngaged.Set(1)
	} else {
		KillSwitchEngaged.Set(0)
	}
}
