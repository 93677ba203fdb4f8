// Package pipeline wires the stages together: ingest (normalize, dedupe,
// correlate) and the closed-group path (enrich, score, route, persist,
// archive, publish). Enrichment is the dominant latency source, so closed
// groups are processed by a worker pool while ingestion stays unblocked.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helixsec/fusion/internal/archive"
	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/correlation"
	"github.com/helixsec/fusion/internal/dedupe"
	"github.com/helixsec/fusion/internal/enrichment"
	"github.com/helixsec/fusion/internal/escalation"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/messaging"
	"github.com/helixsec/fusion/internal/metrics"
	"github.com/helixsec/fusion/internal/models"
	"github.com/helixsec/fusion/internal/normalizer"
	"github.com/helixsec/fusion/internal/scoring"
)

// ErrIngestionPaused is returned while the durable store is unavailable.
// Callers should retry; nothing is dropped on the floor, admission is
// refused up front instead.
var ErrIngestionPaused = errors.New("ingestion paused: durable store unavailable")

// Store is the durable state the pipeline reads and writes while routing.
type Store interface {
	Ping(ctx context.Context) error
	SaveRoutedGroup(ctx context.Context, group *models.CorrelationGroup, score *models.ScoreRecord, decision *escalation.Decision) error
	GetRoutedGroup(ctx context.Context, groupID string) (*models.RoutedGroup, error)
}

// Pipeline is the assembled alert processing path.
type Pipeline struct {
	cfg        func() *config.Config
	normalizer *normalizer.Normalizer
	deduper    dedupe.Deduper
	engine     *correlation.Engine
	sweeper    *correlation.Sweeper
	orch       *enrichment.Orchestrator
	router     *escalation.Router
	store      Store
	archiver   archive.Archiver
	events     *messaging.Events
	log        *logging.Logger

	workers int
	paused  atomic.Bool
	wg      sync.WaitGroup
}

// Options carries the pipeline's collaborators.
type Options struct {
	Config     func() *config.Config
	Normalizer *normalizer.Normalizer
	Deduper    dedupe.Deduper
	Engine     *correlation.Engine
	Sweeper    *correlation.Sweeper
	Orch       *enrichment.Orchestrator
	Router     *escalation.Router
	Store      Store
	Archiver   archive.Archiver
	Events     *messaging.Events
	Log        *logging.Logger
	Workers    int
}

// New assembles a pipeline.
func New(opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	archiver := opts.Archiver
	if archiver == nil {
		archiver = archive.NoOp{}
	}
	return &Pipeline{
		cfg:        opts.Config,
		normalizer: opts.Normalizer,
		deduper:    opts.Deduper,
		engine:     opts.Engine,
		sweeper:    opts.Sweeper,
		orch:       opts.Orch,
		router:     opts.Router,
		store:      opts.Store,
		archiver:   archiver,
		events:     opts.Events,
		log:        opts.Log,
		workers:    workers,
	}
}

// Ingest admits one alert: normalize, dedupe, correlate. Normalization
// failures are escalated, never silently dropped. Duplicate redeliveries
// acknowledge the original alert ID without creating a new entity.
func (p *Pipeline) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	if p.paused.Load() {
		return nil, ErrIngestionPaused
	}

	alert, failure := p.normalizer.Normalize(req)
	if failure != nil {
		metrics.NormalizationFailures.WithLabelValues(req.SourceSystem).Inc()
		p.escalateNormalizationFailure(ctx, req, failure)
		return &models.IngestResponse{
			Failure:   failure.Error(),
			Missing:   failure.MissingFields,
			Escalated: true,
		}, nil
	}

	canonicalID, duplicate, err := p.deduper.CheckAndRecord(ctx, alert.SourceSystem, alert.SourceAlertID, alert.ID)
	if err != nil {
		return nil, fmt.Errorf("dedupe check: %w", err)
	}
	if duplicate {
		metrics.AlertsDeduplicated.Inc()
		return &models.IngestResponse{AlertID: canonicalID, Duplicate: true}, nil
	}

	metrics.AlertsTotal.WithLabelValues(alert.SourceSystem, "accepted").Inc()

	result, err := p.engine.Ingest(ctx, alert)
	if err != nil {
		if errors.Is(err, correlation.ErrShuttingDown) {
			// Refuse admission so the sender retries against a live instance
			// instead of being acknowledged into a draining table.
			return nil, ErrIngestionPaused
		}
		return nil, fmt.Errorf("correlate alert: %w", err)
	}

	p.log.DebugContext(ctx, "alert ingested",
		"alert_id", alert.ID,
		"tenant", alert.TenantID,
		"group_id", result.GroupID,
		"outcome", string(result.Outcome))
	return &models.IngestResponse{AlertID: alert.ID}, nil
}

// escalateNormalizationFailure publishes a flagged escalation event so a
// human sees the broken feed.
func (p *Pipeline) escalateNormalizationFailure(ctx context.Context, req *models.IngestRequest, failure *normalizer.NormalizationFailure) {
	summary := &models.GroupSummary{
		KeyClass: "normalization_failure|" + req.SourceSystem,
		Flags:    []string{models.FlagNormalizationFail},
	}
	if err := p.events.GroupEscalated(ctx, summary); err != nil {
		p.log.ErrorContext(ctx, "failed to publish normalization failure escalation",
			"source", req.SourceSystem, "error", err)
	}
	p.log.WarnContext(ctx, "alert failed normalization",
		"source", req.SourceSystem, "missing", failure.MissingFields)
}

// Run starts the sweeper, the closed-group workers and the store health
// monitor, and blocks until ctx is cancelled and the workers have drained.
// On cancellation the sweeper is joined before the engine drains, so no
// sweep can hand off into a closed channel; the workers then consume the
// final shutdown-closed groups.
func (p *Pipeline) Run(ctx context.Context) {
	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		p.sweeper.Run(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.monitorStore(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.router.RunApprovalSweeper(ctx, time.Minute)
	}()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}

	<-ctx.Done()
	producers.Wait()
	p.engine.Shutdown(context.Background())
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	for group := range p.engine.Closed() {
		metrics.IngestBufferDepth.Set(float64(len(p.engine.Closed())))
		// Shutdown still drains already-closed groups with a fresh context.
		procCtx := ctx
		if procCtx.Err() != nil {
			procCtx = context.Background()
		}
		if err := p.ProcessClosedGroup(procCtx, group); err != nil {
			p.log.ErrorContext(procCtx, "closed group processing failed",
				"group_id", group.ID, "key_class", group.KeyClass, "error", err)
		}
	}
}

// ProcessClosedGroup runs one closed group through enrichment, scoring,
// routing, persistence and archiving.
func (p *Pipeline) ProcessClosedGroup(ctx context.Context, group *models.CorrelationGroup) error {
	cfg := p.cfg()

	evidence := p.orch.Enrich(ctx, group)

	score := scoring.Score(evidence, p.thresholdsFor(cfg, group))
	score.GroupID = group.ID
	group.State = models.GroupScored

	decision, err := p.router.Route(ctx, group, score)
	if err != nil {
		return fmt.Errorf("route group: %w", err)
	}

	if err := p.store.SaveRoutedGroup(ctx, group, score, decision); err != nil {
		return fmt.Errorf("persist routed group: %w", err)
	}

	record := routedRecord(group, score, decision)
	if err := p.archiver.ArchiveGroup(ctx, record, evidence); err != nil {
		// Best effort: the Postgres audit row is already durable.
		p.log.WarnContext(ctx, "archive write failed", "group_id", group.ID, "error", err)
	}

	p.publishDecision(ctx, group, score, decision, record)
	return nil
}

// thresholdsFor picks the tenant override when the group belongs to exactly
// one tenant; cross-tenant groups use the global thresholds.
func (p *Pipeline) thresholdsFor(cfg *config.Config, group *models.CorrelationGroup) models.ScoreThresholds {
	tenants := group.Tenants()
	if len(tenants) == 1 {
		return cfg.Scoring.ThresholdsFor(tenants[0])
	}
	return cfg.Scoring.ThresholdsFor("")
}

func (p *Pipeline) publishDecision(ctx context.Context, group *models.CorrelationGroup, score *models.ScoreRecord, decision *escalation.Decision, record *models.RoutedGroup) {
	var err error
	switch decision.Disposition {
	case models.DispositionClosedInformational:
		err = p.events.GroupClosed(ctx, record)
	default:
		summary := &models.GroupSummary{
			GroupID:         group.ID,
			KeyClass:        group.KeyClass,
			WindowStart:     group.WindowStart,
			WindowEnd:       group.WindowEnd,
			MemberCount:     len(group.MemberAlertIDs),
			TenantCount:     len(group.Tenants()),
			Band:            score.Band,
			TotalScore:      score.TotalScore,
			MissingEvidence: score.MissingEvidence,
			Flags:           group.Flags,
		}
		if err = p.events.GroupEscalated(ctx, summary); err == nil {
			err = p.events.GroupRouted(ctx, record)
		}
	}
	if err != nil {
		p.log.WarnContext(ctx, "event publish failed", "group_id", group.ID, "error", err)
	}
}

// monitorStore pauses admission while the durable store is unreachable and
// resumes it when health returns.
func (p *Pipeline) monitorStore(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := p.store.Ping(pingCtx)
			cancel()

			wasPaused := p.paused.Load()
			if err != nil && !wasPaused {
				p.paused.Store(true)
				metrics.IngestPaused.Set(1)
				p.log.ErrorContext(ctx, "durable store unreachable, pausing ingestion", "error", err)
			} else if err == nil && wasPaused {
				p.paused.Store(false)
				metrics.IngestPaused.Set(0)
				p.log.InfoContext(ctx, "durable store recovered, resuming ingestion")
			}
		}
	}
}

// GetRoutedGroup exposes the audit record for the API.
func (p *Pipeline) GetRoutedGroup(ctx context.Context, groupID string) (*models.RoutedGroup, error) {
	return p.store.GetRoutedGroup(ctx, groupID)
}

// Confirm applies a human confirmation to an escalated group.
func (p *Pipeline) Confirm(ctx context.Context, groupID, approvedBy string) error {
	record, err := p.store.GetRoutedGroup(ctx, groupID)
	if err != nil {
		return err
	}
	group := &models.CorrelationGroup{
		ID:             record.GroupID,
		CorrelationKey: record.CorrelationKey,
		KeyClass:       record.KeyClass,
	}
	return p.router.Confirm(ctx, group, approvedBy)
}

func routedRecord(group *models.CorrelationGroup, score *models.ScoreRecord, decision *escalation.Decision) *models.RoutedGroup {
	return &models.RoutedGroup{
		GroupID:         group.ID,
		CorrelationKey:  group.CorrelationKey,
		KeyClass:        group.KeyClass,
		WindowStart:     group.WindowStart,
		WindowEnd:       group.WindowEnd,
		MemberCount:     len(group.MemberAlertIDs),
		TenantCount:     len(group.Tenants()),
		TotalScore:      score.TotalScore,
		Band:            score.Band,
		Disposition:     decision.Disposition,
		Flags:           group.Flags,
		MissingEvidence: score.MissingEvidence,
		RoutedAt:        decision.RoutedAt,
	}
}
