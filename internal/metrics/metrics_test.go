package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.VoteQueued("north-ave")
	m.VoteQueued("north-ave")
	m.Rejected("seating", "cooldown")
	m.Verdict(false, "rate_limited", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VotesQueued.WithLabelValues("north-ave")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("seating", "cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("false", "rate_limited", "false")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.VoteQueued("a")
		m.WaitCommitted("a")
		m.SeatingCommitted("a")
		m.Rated("a")
		m.Rejected("waitTime", "too_far")
		m.Verdict(true, "", true)
	})
}
