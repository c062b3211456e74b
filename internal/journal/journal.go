package journal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DB is the slice of the pgx pool the journal needs. Satisfied by
// *pgxpool.Pool and by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Config tunes journal buffering and streaming
type Config struct {
	FlushInterval time.Duration // how often buffered records hit the database
	BufferSize    int           // pending write queue length
	MemoryLimit   int           // recent records kept in memory for queries
	Subject       string        // NATS subject prefix for the decision stream
}

// DefaultConfig returns the production journal settings
func DefaultConfig() Config {
	return Config{
		FlushInterval: 2 * time.Second,
		BufferSize:    1024,
		MemoryLimit:   10000,
		Subject:       "cherryquant.decisions",
	}
}

const upsertRecordSQL = `
	INSERT INTO decisions (decision_id, strategy_id, symbol, created_at, outcome, record)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (decision_id) DO UPDATE
	SET outcome = EXCLUDED.outcome, record = EXCLUDED.record
`

// Journal is the append-only decision log. Appends are cheap: the
// record lands in memory and on the stream immediately, while the
// database write is buffered and flushed at bounded intervals. Losing
// the unflushed tail on crash is accepted.
type Journal struct {
	db  DB
	nc  *nats.Conn
	cfg Config
	log zerolog.Logger

	mu    sync.RWMutex
	byID  map[string]*Record
	order []*Record

	pending chan Record
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New creates a journal. A nil db disables persistence and a nil NATS
// connection disables streaming; memory queries work either way.
func New(db DB, nc *nats.Conn, cfg Config, log zerolog.Logger) *Journal {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = 10000
	}
	if cfg.Subject == "" {
		cfg.Subject = "cherryquant.decisions"
	}

	j := &Journal{
		db:      db,
		nc:      nc,
		cfg:     cfg,
		log:     log.With().Str("component", "journal").Logger(),
		byID:    make(map[string]*Record),
		pending: make(chan Record, cfg.BufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go j.flusher()
	return j
}

// Append records one decision outcome. Exactly one record exists per
// decision id; a second append for the same id is rejected by design
// and logged, never silently merged.
func (j *Journal) Append(ctx context.Context, rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	j.mu.Lock()
	if _, exists := j.byID[rec.DecisionID]; exists {
		j.mu.Unlock()
		j.log.Error().
			Str("decision_id", rec.DecisionID).
			Msg("Duplicate journal append ignored")
		return
	}
	stored := rec
	j.byID[rec.DecisionID] = &stored
	j.order = append(j.order, &stored)
	if len(j.order) > j.cfg.MemoryLimit {
		evicted := j.order[0]
		j.order = j.order[1:]
		delete(j.byID, evicted.DecisionID)
	}
	j.mu.Unlock()

	j.publish(rec)
	j.enqueue(rec)
}

// Settle attaches the late-arriving broker outcome to a record
func (j *Journal) Settle(ctx context.Context, decisionID string, s Settlement) {
	j.mu.Lock()
	rec, ok := j.byID[decisionID]
	if !ok {
		j.mu.Unlock()
		j.log.Warn().
			Str("decision_id", decisionID).
			Msg("Settlement for unknown decision")
		return
	}
	if s.FillPrice != nil {
		rec.FillPrice = s.FillPrice
	}
	if s.RealizedPnL != nil {
		rec.RealizedPnL = s.RealizedPnL
	}
	if s.Invalidated != nil {
		rec.Invalidated = s.Invalidated
	}
	updated := *rec
	j.mu.Unlock()

	j.publish(updated)
	j.enqueue(updated)
}

// Get returns the record for a decision id
func (j *Journal) Get(decisionID string) (Record, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.byID[decisionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ByStrategy returns up to limit records for one strategy, newest first
func (j *Journal) ByStrategy(strategyID string, limit int) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Record
	for i := len(j.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if j.order[i].StrategyID == strategyID {
			out = append(out, *j.order[i])
		}
	}
	return out
}

// Recent returns up to limit records across all strategies, newest
// first, optionally filtered by strategy id.
func (j *Journal) Recent(strategyID string, limit int) []Record {
	if strategyID != "" {
		return j.ByStrategy(strategyID, limit)
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Record
	for i := len(j.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *j.order[i])
	}
	return out
}

// InRange returns records created in [from, to), oldest first,
// optionally filtered by strategy id.
func (j *Journal) InRange(strategyID string, from, to time.Time) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Record
	for _, rec := range j.order {
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		if strategyID != "" && rec.StrategyID != strategyID {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Close flushes whatever is buffered and stops the writer
func (j *Journal) Close() {
	j.once.Do(func() { close(j.stop) })
	<-j.done
}

func (j *Journal) publish(rec Record) {
	if j.nc == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to marshal journal record for stream")
		return
	}
	subject := j.cfg.Subject + "." + rec.StrategyID
	if err := j.nc.Publish(subject, payload); err != nil {
		j.log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish journal record")
	}
}

func (j *Journal) enqueue(rec Record) {
	if j.db == nil {
		return
	}
	select {
	case j.pending <- rec:
	default:
		// Best-effort durability: under sustained backlog the oldest
		// unflushed write loses to liveness.
		j.log.Warn().
			Str("decision_id", rec.DecisionID).
			Msg("Journal write buffer full, dropping database write")
	}
}

func (j *Journal) flusher() {
	defer close(j.done)

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.flush()
		case <-j.stop:
			j.flush()
			return
		}
	}
}

// flush drains the pending queue into the database
func (j *Journal) flush() {
	if j.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case rec := <-j.pending:
			if err := j.write(ctx, rec); err != nil {
				j.log.Error().
					Err(err).
					Str("decision_id", rec.DecisionID).
					Msg("Failed to persist journal record")
			}
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(ctx, upsertRecordSQL,
		rec.DecisionID,
		rec.StrategyID,
		rec.Symbol,
		rec.CreatedAt,
		string(rec.Outcome),
		payload,
	)
	return err
}
