// Package enrichment fans out evidence collection for closed groups across
// the configured providers, through the gateway. Partial enrichment is
// better than none: one slow or failing provider never blocks the others,
// and the global deadline guarantees the pipeline keeps moving.
package enrichment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/gateway"
	"github.com/helixsec/fusion/internal/ioc"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/metrics"
	"github.com/helixsec/fusion/internal/models"
)

// Orchestrator collects evidence for closed groups.
type Orchestrator struct {
	gw        *gateway.Gateway
	cfg       func() config.EnrichmentConfig
	log       *logging.Logger
	providers []Provider
	now       func() time.Time
}

// NewOrchestrator builds an orchestrator over the given providers.
func NewOrchestrator(gw *gateway.Gateway, cfg func() config.EnrichmentConfig, log *logging.Logger, providers ...Provider) *Orchestrator {
	return &Orchestrator{gw: gw, cfg: cfg, log: log, providers: providers, now: time.Now}
}

type providerPlan struct {
	provider Provider
	requests []gateway.Request
}

// Enrich runs every relevant provider concurrently and aggregates the
// results. Providers that have not answered by the deadline are marked
// skipped rather than waited on. Completeness below the configured floor
// flags the group LOW_CONFIDENCE_DATA, which forces escalation downstream
// regardless of the numeric score.
func (o *Orchestrator) Enrich(ctx context.Context, group *models.CorrelationGroup) *models.AggregatedEvidence {
	cfg := o.cfg()
	group.State = models.GroupEnriching

	ind := indicatorsFor(group)
	var plans []providerPlan
	for _, p := range o.providers {
		reqs := p.Requests(group, ind)
		if len(reqs) > 0 {
			plans = append(plans, providerPlan{provider: p, requests: reqs})
		}
	}

	ev := &models.AggregatedEvidence{GroupID: group.ID, CollectedAt: o.now().UTC()}
	if len(plans) == 0 {
		// Nothing to check means no evidence, not clean evidence.
		group.AddFlag(models.FlagLowConfidenceData)
		metrics.EnrichmentCompleteness.Observe(0)
		return ev
	}

	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 2 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		idx    int
		result models.EnrichmentResult
	}
	ch := make(chan outcome, len(plans))
	for i, plan := range plans {
		go func(i int, plan providerPlan) {
			ch <- outcome{idx: i, result: o.callProvider(callCtx, plan)}
		}(i, plan)
	}

	results := make([]*models.EnrichmentResult, len(plans))
	received := 0
collect:
	for received < len(plans) {
		select {
		case out := <-ch:
			r := out.result
			results[out.idx] = &r
			received++
		case <-callCtx.Done():
			break collect
		}
	}

	okCount := 0
	for i, plan := range plans {
		r := results[i]
		if r == nil {
			r = &models.EnrichmentResult{
				Provider: plan.provider.Name(),
				Verdict:  models.VerdictUnknown,
				Status:   models.ResultSkipped,
				Detail:   "enrichment deadline elapsed",
			}
		}
		if r.Status == models.ResultOK {
			okCount++
		}
		ev.Results = append(ev.Results, *r)
	}

	ev.Completeness = float64(okCount) / float64(len(plans))
	metrics.EnrichmentCompleteness.Observe(ev.Completeness)

	if ev.Completeness < cfg.CompletenessFloor {
		group.AddFlag(models.FlagLowConfidenceData)
	}

	o.log.InfoContext(ctx, "enrichment aggregated",
		"group_id", group.ID,
		"providers", len(plans),
		"ok", okCount,
		"completeness", fmt.Sprintf("%.2f", ev.Completeness))
	return ev
}

// callProvider issues the plan's lookups sequentially against one provider
// and folds them into a single result. The strongest contribution wins; a
// mix of success and failure is PARTIAL.
func (o *Orchestrator) callProvider(ctx context.Context, plan providerPlan) models.EnrichmentResult {
	name := plan.provider.Name()
	start := o.now()

	var (
		okCalls, failedCalls, skippedCalls int
		best                               *gateway.Response
		bestContribution                   int
		lastDetail                         string
	)

	for i := range plan.requests {
		resp, err := o.gw.Call(ctx, name, &plan.requests[i])
		if err != nil {
			if gateway.IsRateLimited(err) || gateway.ClassOf(err) == gateway.ClassCircuitOpen {
				skippedCalls++
			} else {
				failedCalls++
			}
			lastDetail = err.Error()
			continue
		}
		okCalls++
		if c := contribution(resp); best == nil || c > bestContribution {
			best = resp
			bestContribution = c
		}
	}

	result := models.EnrichmentResult{
		Provider:      name,
		Verdict:       models.VerdictUnknown,
		LatencyMillis: o.now().Sub(start).Milliseconds(),
	}

	switch {
	case okCalls > 0 && failedCalls == 0 && skippedCalls == 0:
		result.Status = models.ResultOK
	case okCalls > 0:
		result.Status = models.ResultPartial
		result.Detail = lastDetail
	case failedCalls > 0:
		result.Status = models.ResultFailed
		result.Detail = lastDetail
	default:
		result.Status = models.ResultSkipped
		result.Detail = lastDetail
	}

	if best != nil {
		if best.Verdict != "" {
			result.Verdict = models.Verdict(best.Verdict)
		}
		result.ConfidenceContribution = bestContribution
		if result.Detail == "" {
			result.Detail = best.Detail
		}
	}
	return result
}

// indicatorsFor extracts indicators from the textual raw fields of every
// member alert, deduplicated across the group.
func indicatorsFor(group *models.CorrelationGroup) ioc.Indicators {
	var sb strings.Builder
	for _, a := range group.Members {
		sb.WriteString(a.AlertType)
		sb.WriteString(" ")
		keys := make([]string, 0, len(a.RawFields))
		for k := range a.RawFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "%v ", a.RawFields[k])
		}
	}
	return ioc.Extract(sb.String())
}
