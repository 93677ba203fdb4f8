package enrichment

import (
	"github.com/helixsec/fusion/internal/gateway"
	"github.com/helixsec/fusion/internal/ioc"
	"github.com/helixsec/fusion/internal/models"
)

// maxIndicatorsPerProvider bounds how many lookups one group can trigger
// against a single provider.
const maxIndicatorsPerProvider = 5

// Provider selects which lookups an enrichment source should perform for a
// group. Implementations are pure selection logic; the actual calls go
// through the gateway, so adding a provider never touches correlation or
// scoring code.
type Provider interface {
	Name() string
	// Requests returns the lookups relevant to this group, empty when the
	// provider has nothing to check (for example no URL indicators for a
	// URL reputation source).
	Requests(group *models.CorrelationGroup, ind ioc.Indicators) []gateway.Request
}

// verdictWeights are the default confidence contributions per verdict, used
// when the provider response carries no raw score of its own.
var verdictWeights = map[models.Verdict]int{
	models.VerdictMalicious:  50,
	models.VerdictSuspicious: 25,
	models.VerdictBenign:     -10,
	models.VerdictUnknown:    0,
}

func contribution(resp *gateway.Response) int {
	if resp.RawScore != 0 {
		return resp.RawScore
	}
	return verdictWeights[models.Verdict(resp.Verdict)]
}

func capIndicators(values []string) []string {
	if len(values) > maxIndicatorsPerProvider {
		return values[:maxIndicatorsPerProvider]
	}
	return values
}

// URLReputation checks extracted URLs against a reputation feed.
type URLReputation struct{ name string }

func NewURLReputation(name string) *URLReputation { return &URLReputation{name: name} }

func (p *URLReputation) Name() string { return p.name }

func (p *URLReputation) Requests(_ *models.CorrelationGroup, ind ioc.Indicators) []gateway.Request {
	var reqs []gateway.Request
	for _, u := range capIndicators(ind.URLs) {
		reqs = append(reqs, gateway.Request{Indicator: u, Type: "url"})
	}
	for _, d := range capIndicators(ind.Domains) {
		reqs = append(reqs, gateway.Request{Indicator: d, Type: "domain"})
	}
	return reqs
}

// IPReputation checks extracted IP addresses against a reputation feed.
type IPReputation struct{ name string }

func NewIPReputation(name string) *IPReputation { return &IPReputation{name: name} }

func (p *IPReputation) Name() string { return p.name }

func (p *IPReputation) Requests(_ *models.CorrelationGroup, ind ioc.Indicators) []gateway.Request {
	var reqs []gateway.Request
	for _, ip := range capIndicators(ind.IPs) {
		reqs = append(reqs, gateway.Request{Indicator: ip, Type: "ip"})
	}
	return reqs
}

// HashReputation checks file hashes against a reputation feed.
type HashReputation struct{ name string }

func NewHashReputation(name string) *HashReputation { return &HashReputation{name: name} }

func (p *HashReputation) Name() string { return p.name }

func (p *HashReputation) Requests(_ *models.CorrelationGroup, ind ioc.Indicators) []gateway.Request {
	var reqs []gateway.Request
	for _, h := range capIndicators(ind.SHA256) {
		reqs = append(reqs, gateway.Request{Indicator: h, Type: "hash"})
	}
	for _, h := range capIndicators(ind.MD5) {
		reqs = append(reqs, gateway.Request{Indicator: h, Type: "hash"})
	}
	for _, h := range capIndicators(ind.SHA1) {
		reqs = append(reqs, gateway.Request{Indicator: h, Type: "hash"})
	}
	return capRequests(reqs)
}

func capRequests(reqs []gateway.Request) []gateway.Request {
	if len(reqs) > maxIndicatorsPerProvider {
		return reqs[:maxIndicatorsPerProvider]
	}
	return reqs
}

// ServiceHealth checks the status feed for the service the group's alerts
// point at. A provider-side outage is strong benign evidence for failure
// storms like mass MFA timeouts.
type ServiceHealth struct{ name string }

func NewServiceHealth(name string) *ServiceHealth { return &ServiceHealth{name: name} }

func (p *ServiceHealth) Name() string { return p.name }

func (p *ServiceHealth) Requests(group *models.CorrelationGroup, _ ioc.Indicators) []gateway.Request {
	if len(group.Members) == 0 {
		return nil
	}
	svc := group.Members[0].Correlation.ServiceOrProvider
	if svc == "" {
		return nil
	}
	return []gateway.Request{{Indicator: svc, Type: "service"}}
}
