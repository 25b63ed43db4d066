package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/metrics"
)

func TestPrometheus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg)

	m.ObserveTaskRun(metrics.RunKindNew, "completed", 90*time.Second)
	m.ObserveAgentRun("claude", true, time.Minute)
	m.IncPublish("pushed")
	m.IncPublish("pushed")
	m.IncRateLimited()
	m.AddSweptTasks(3)

	exp := `
# HELP agentbox_git_publishes_total Total git publications by outcome.
# TYPE agentbox_git_publishes_total counter
agentbox_git_publishes_total{outcome="pushed"} 2
# HELP agentbox_quota_rejected_total Total task creations rejected by the daily quota.
# TYPE agentbox_quota_rejected_total counter
agentbox_quota_rejected_total 1
# HELP agentbox_sweeper_swept_tasks_total Total stuck tasks marked as error by the sweeper.
# TYPE agentbox_sweeper_swept_tasks_total counter
agentbox_sweeper_swept_tasks_total 3
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(exp),
		"agentbox_git_publishes_total", "agentbox_quota_rejected_total", "agentbox_sweeper_swept_tasks_total")
	require.NoError(err)

	n, err := testutil.GatherAndCount(reg, "agentbox_task_run_duration_seconds", "agentbox_agent_run_duration_seconds")
	require.NoError(err)
	assert.Equal(2, n)
}
