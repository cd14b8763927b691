// Package metrics exposes Prometheus collectors for reports and verdicts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters shared by the api and the worker. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	VotesQueued    *prometheus.CounterVec
	WaitCommits    *prometheus.CounterVec
	SeatingCommits *prometheus.CounterVec
	Ratings        *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	Verdicts       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VotesQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forked_wait_votes_queued_total",
			Help: "Wait-time votes accepted below quorum.",
		}, []string{"hall_id"}),
		WaitCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forked_wait_time_commits_total",
			Help: "Wait-time estimates published after reaching quorum.",
		}, []string{"hall_id"}),
		SeatingCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forked_seating_commits_total",
			Help: "Seating reports applied.",
		}, []string{"hall_id"}),
		Ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forked_item_ratings_total",
			Help: "Menu item ratings applied.",
		}, []string{"hall_id"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forked_report_rejections_total",
			Help: "Reports rejected before commit, by action and reason.",
		}, []string{"action", "reason"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forked_submission_verdicts_total",
			Help: "Server validation verdicts by outcome and reason.",
		}, []string{"validated", "reason", "location_verified"}),
	}
	reg.MustRegister(m.VotesQueued, m.WaitCommits, m.SeatingCommits, m.Ratings, m.Rejections, m.Verdicts)
	return m
}

func (m *Metrics) VoteQueued(hallID string) {
	if m != nil {
		m.VotesQueued.WithLabelValues(hallID).Inc()
	}
}

func (m *Metrics) WaitCommitted(hallID string) {
	if m != nil {
		m.WaitCommits.WithLabelValues(hallID).Inc()
	}
}

func (m *Metrics) SeatingCommitted(hallID string) {
	if m != nil {
		m.SeatingCommits.WithLabelValues(hallID).Inc()
	}
}

func (m *Metrics) Rated(hallID string) {
	if m != nil {
		m.Ratings.WithLabelValues(hallID).Inc()
	}
}

func (m *Metrics) Rejected(action, reason string) {
	if m != nil {
		m.Rejections.WithLabelValues(action, reason).Inc()
	}
}

func (m *Metrics) Verdict(validated bool, reason string, locationVerified bool) {
	if m != nil {
		m.Verdicts.WithLabelValues(boolLabel(validated), reason, boolLabel(locationVerified)).Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
