package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/campusagent/agent"
	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/stream"
)

// Interface compliance (compile-time assertions)
var (
	_ agent.Observer  = (*Metrics)(nil)
	_ stream.Observer = (*Metrics)(nil)
)

func TestMetrics_Turns(t *testing.T) {
	m := New()

	m.TurnStarted("s1")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeTurns))

	m.StepCompleted("s1", core.StepTrace{Step: 1, Kind: core.StepThinkAct}, 20*time.Millisecond)
	m.ToolCompleted("knowledge_search", 5*time.Millisecond, nil)
	m.ToolCompleted("knowledge_search", time.Millisecond, errors.New("boom"))
	m.TurnCompleted(&core.TurnOutcome{State: core.StateFinished, Steps: 3, StepLimitReached: true, Duration: time.Second})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeTurns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepLimit))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("think+act")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("knowledge_search", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("knowledge_search", "error")))
}

func TestMetrics_Streams(t *testing.T) {
	m := New()

	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed(stream.ReasonCompleted, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.openStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streams.WithLabelValues("completed")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SessionGauge(func() int { return 7 })
	m.TurnStarted("s1")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "campusagent_agent_active_turns 1"))
	assert.True(t, strings.Contains(body, "campusagent_session_stored 7"))
}
