package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts governance activity. Counters stay nil until Register is
// called, and every Inc is a no-op until then.
type Metrics struct {
	registerOnce sync.Once

	proposalsCounter *prometheus.CounterVec
	votesCounter     *prometheus.CounterVec
	statusCounter    *prometheus.CounterVec
	callsCounter     *prometheus.CounterVec
	outcomesCounter  *prometheus.CounterVec
	claimsCounter    prometheus.Counter
}

// Register creates the counters on registry. It is idempotent; a nil
// registry leaves the metrics disabled.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if registry == nil {
		return
	}
	m.registerOnce.Do(func() {
		factory := promauto.With(registry)
		m.proposalsCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_proposals_total",
			Help: "Proposals added, by kind label",
		}, []string{"kind"})
		m.votesCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_votes_total",
			Help: "Votes cast, by vote",
		}, []string{"vote"})
		m.statusCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_proposal_status_changes_total",
			Help: "Proposal status changes, by new status",
		}, []string{"status"})
		m.callsCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_calls_dispatched_total",
			Help: "Outbound calls dispatched, by call kind",
		}, []string{"kind"})
		m.outcomesCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_call_outcomes_total",
			Help: "Outbound call outcomes, by result",
		}, []string{"result"})
		m.claimsCounter = factory.NewCounter(prometheus.CounterOpts{
			Name: "treasury_bounty_claims_total",
			Help: "Bounty claims made",
		})
	})
}

func (m *Metrics) incProposal(label string) {
	if m != nil && m.proposalsCounter != nil {
		m.proposalsCounter.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) incVote(vote Vote) {
	if m != nil && m.votesCounter != nil {
		m.votesCounter.WithLabelValues(vote.String()).Inc()
	}
}

func (m *Metrics) incStatus(status ProposalStatus) {
	if m != nil && m.statusCounter != nil {
		m.statusCounter.WithLabelValues(status.String()).Inc()
	}
}

func (m *Metrics) incCall(kind CallKind) {
	if m != nil && m.callsCounter != nil {
		m.callsCounter.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) incOutcome(success bool) {
	if m == nil || m.outcomesCounter == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.outcomesCounter.WithLabelValues(result).Inc()
}

func (m *Metrics) incClaim() {
	if m != nil && m.claimsCounter != nil {
		m.claimsCounter.Inc()
	}
}
