// Package correlation clusters normalized alerts into sliding-window groups
// keyed by canonicalized (alert type class, provider, failure reason class).
// Grouping is arrival-time based, so alerts arriving out of event-time order
// land in the same group as long as they arrive within the window.
package correlation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/metrics"
	"github.com/helixsec/fusion/internal/models"
)

// Outcome describes what happened to an alert on ingest.
type Outcome string

const (
	OutcomeOpened      Outcome = "opened"
	OutcomeAppended    Outcome = "appended"
	OutcomeClosedEarly Outcome = "closed_early"
	OutcomeOverflow    Outcome = "overflow"
)

// Close reasons, recorded as the metric label on group close.
const (
	closeReasonExpired  = "expired"
	closeReasonBurst    = "burst"
	closeReasonShutdown = "shutdown"
)

const lockRetryDelay = 10 * time.Millisecond

// ErrShuttingDown is returned by Ingest once Shutdown has begun. An alert
// refused with it was never admitted; the sender must retry elsewhere rather
// than treat the ingest as acknowledged.
var ErrShuttingDown = errors.New("correlation engine shutting down")

// Result reports where an ingested alert landed. Closed is non-nil when the
// append pushed the group over the burst threshold and closed it early.
type Result struct {
	Outcome Outcome
	GroupID string
	Closed  *models.CorrelationGroup
}

type entry struct {
	mu       sync.Mutex
	group    *models.CorrelationGroup
	seen     map[string]bool // member alert IDs
	detached bool            // entry removed from the table; do not reuse
}

// Engine maintains the open-group table. One goroutine pool may call Ingest
// concurrently; closed groups are handed off exactly once on the Closed
// channel, in close order.
type Engine struct {
	cfg   func() config.CorrelationConfig
	keyer *Keyer
	log   *logging.Logger
	now   func() time.Time

	mu       sync.Mutex
	groups   map[string]*entry
	draining bool

	closed chan *models.CorrelationGroup
}

// NewEngine builds an engine. cfg is called per ingest so window settings
// follow config reloads without a restart.
func NewEngine(cfg func() config.CorrelationConfig, keyer *Keyer, log *logging.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		keyer:  keyer,
		log:    log,
		now:    time.Now,
		groups: make(map[string]*entry),
		closed: make(chan *models.CorrelationGroup, 256),
	}
}

// Closed returns the channel of groups whose windows have ended. Each closed
// group is delivered exactly once; the consumer owns it from then on.
func (e *Engine) Closed() <-chan *models.CorrelationGroup {
	return e.closed
}

// Ingest routes one alert into its correlation group, opening a new group
// when none is open for the key. Appending slides the window forward up to
// the hard cap; crossing the burst threshold closes the group early.
func (e *Engine) Ingest(ctx context.Context, alert *models.Alert) (*Result, error) {
	cfg := e.cfg()
	key, class := e.keyer.Key(alert)

	ent, locked, err := e.lockEntry(key, cfg.LockRetries)
	if err != nil {
		return nil, err
	}
	if !locked {
		// Sustained contention on this key: divert to the overflow group
		// rather than blocking or dropping the alert.
		return e.ingestOverflow(ctx, alert, key, class, cfg)
	}
	defer ent.mu.Unlock()

	arrival := e.now()

	if ent.group == nil {
		ent.group = e.openGroup(key, class, arrival, cfg)
		e.appendMember(ent, alert)
		e.log.DebugContext(ctx, "correlation group opened",
			"group_id", ent.group.ID, "key_class", class)
		return &Result{Outcome: OutcomeOpened, GroupID: ent.group.ID}, nil
	}

	if ent.seen[alert.ID] {
		return &Result{Outcome: OutcomeAppended, GroupID: ent.group.ID}, nil
	}

	e.appendMember(ent, alert)
	e.slideWindow(ent.group, arrival, cfg)

	if cfg.BurstThreshold > 0 && len(ent.group.MemberAlertIDs) >= cfg.BurstThreshold {
		closed := e.detach(key, ent, closeReasonBurst)
		closed.AddFlag(models.FlagBurst)
		e.log.InfoContext(ctx, "correlation group closed early on burst",
			"group_id", closed.ID, "key_class", class, "members", len(closed.MemberAlertIDs))
		e.handOff(closed)
		return &Result{Outcome: OutcomeClosedEarly, GroupID: closed.ID, Closed: closed}, nil
	}

	return &Result{Outcome: OutcomeAppended, GroupID: ent.group.ID}, nil
}

// lockEntry finds or creates the entry for key and acquires its lock with a
// bounded retry budget. The table lock is never held while waiting. The
// draining check shares the table lock with Shutdown, so an entry created
// here is always visible to Shutdown's snapshot.
func (e *Engine) lockEntry(key string, retries int) (*entry, bool, error) {
	if retries <= 0 {
		retries = 3
	}
	for i := 0; i <= retries; i++ {
		e.mu.Lock()
		if e.draining {
			e.mu.Unlock()
			return nil, false, ErrShuttingDown
		}
		ent, ok := e.groups[key]
		if !ok {
			ent = &entry{seen: make(map[string]bool)}
			e.groups[key] = ent
		}
		e.mu.Unlock()

		if ent.mu.TryLock() {
			// Detached by a concurrent close between lookup and lock:
			// retry against the fresh table state.
			if ent.detached {
				ent.mu.Unlock()
				continue
			}
			return ent, true, nil
		}
		time.Sleep(lockRetryDelay)
	}
	return nil, false, nil
}

// ingestOverflow appends to the key's overflow group, which is flagged and
// closed by the sweeper like any other group.
func (e *Engine) ingestOverflow(ctx context.Context, alert *models.Alert, key, class string, cfg config.CorrelationConfig) (*Result, error) {
	overflowKey := key + "#overflow"

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}
	ent, ok := e.groups[overflowKey]
	if !ok {
		ent = &entry{seen: make(map[string]bool)}
		e.groups[overflowKey] = ent
	}
	e.mu.Unlock()

	ent.mu.Lock()
	defer ent.mu.Unlock()

	arrival := e.now()
	if ent.group == nil || ent.detached {
		ent.detached = false
		ent.group = e.openGroup(key, class, arrival, cfg)
		ent.group.AddFlag(models.FlagOverflow)
		ent.seen = make(map[string]bool)
		e.log.WarnContext(ctx, "lock contention diverted alert to overflow group",
			"group_id", ent.group.ID, "key_class", class)
	}
	if !ent.seen[alert.ID] {
		e.appendMember(ent, alert)
		e.slideWindow(ent.group, arrival, cfg)
	}
	return &Result{Outcome: OutcomeOverflow, GroupID: ent.group.ID}, nil
}

func (e *Engine) openGroup(key, class string, arrival time.Time, cfg config.CorrelationConfig) *models.CorrelationGroup {
	metrics.OpenGroups.Inc()
	return &models.CorrelationGroup{
		ID:             uuid.Must(uuid.NewV7()).String(),
		CorrelationKey: key,
		KeyClass:       class,
		WindowStart:    arrival,
		WindowEnd:      arrival.Add(cfg.WindowDuration),
		State:          models.GroupOpen,
	}
}

func (e *Engine) appendMember(ent *entry, alert *models.Alert) {
	ent.group.MemberAlertIDs = append(ent.group.MemberAlertIDs, alert.ID)
	ent.group.Members = append(ent.group.Members, alert)
	ent.seen[alert.ID] = true
}

// slideWindow extends the window per append, clamped to the hard cap so a
// steady trickle cannot hold a group open forever.
func (e *Engine) slideWindow(g *models.CorrelationGroup, arrival time.Time, cfg config.CorrelationConfig) {
	candidate := arrival.Add(cfg.WindowDuration)
	if hardCap := g.WindowStart.Add(cfg.WindowCap); candidate.After(hardCap) {
		candidate = hardCap
	}
	if candidate.After(g.WindowEnd) {
		g.WindowEnd = candidate
	}
}

// detach removes the entry from the table and marks the group closed. Caller
// must hold ent.mu. The returned group is exclusively owned by the caller.
func (e *Engine) detach(key string, ent *entry, reason string) *models.CorrelationGroup {
	e.mu.Lock()
	if e.groups[key] == ent {
		delete(e.groups, key)
	}
	e.mu.Unlock()

	g := ent.group
	ent.group = nil
	ent.detached = true
	g.State = models.GroupClosed

	metrics.OpenGroups.Dec()
	metrics.GroupsClosed.WithLabelValues(reason).Inc()
	return g
}

func (e *Engine) handOff(g *models.CorrelationGroup) {
	e.closed <- g
}

// OpenCount returns the number of currently open groups.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ent := range e.groups {
		if ent.group != nil {
			n++
		}
	}
	return n
}

// Shutdown closes every open group with a shutdown reason, hands them off,
// and closes the Closed channel. Later Ingest calls fail with
// ErrShuttingDown instead of opening groups nothing will ever deliver.
// In-flight ingests hold their entry lock through hand-off, so locking each
// entry here is the barrier that lets the channel close safely. Callers must
// stop the sweeper before calling Shutdown.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	entries := make(map[string]*entry, len(e.groups))
	for k, v := range e.groups {
		entries[k] = v
	}
	e.mu.Unlock()

	for key, ent := range entries {
		ent.mu.Lock()
		if ent.group != nil {
			g := e.detach(key, ent, closeReasonShutdown)
			ent.mu.Unlock()
			e.handOff(g)
			continue
		}
		ent.mu.Unlock()
	}
	close(e.closed)
	e.log.InfoContext(ctx, "correlation engine drained")
}
