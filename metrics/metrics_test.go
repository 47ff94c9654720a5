package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/launchdarkly/frame-test-harness/frametest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenterRecordsOutcome(t *testing.T) {
	m := New("run1")
	p := m.Presenter("suiteA", "case1")

	p.SetStatus(frametest.StatusSpin)
	p.SetStatus(frametest.StatusSpin)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inProgress.WithLabelValues("run1", "suiteA")))

	p.SetStatus(frametest.StatusFail)
	p.SetResultText("boom")
	p.SetElapsed(250)
	p.NotifyDone()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.spinsTotal.WithLabelValues("run1", "suiteA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.casesTotal.WithLabelValues("run1", "suiteA", "fail")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.casesTotal.WithLabelValues("run1", "suiteA", "pass")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inProgress.WithLabelValues("run1", "suiteA")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.caseDuration))
}

func TestSeparateRunsDoNotShareRegistries(t *testing.T) {
	a, b := New("a"), New("b")
	a.Presenter("s", "c").NotifyDone()

	count, err := testutil.GatherAndCount(b.Registry(), "frametest_cases_total")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	count, err = testutil.GatherAndCount(a.Registry(), "frametest_cases_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New("run1")
	p := m.Presenter("suiteA", "case1")
	p.SetStatus(frametest.StatusPass)
	p.SetElapsed(12)
	p.NotifyDone()

	server := httptest.NewServer(m.Handler())
	defer server.Close()
	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), `frametest_cases_total{result="pass",run_id="run1",suite="suiteA"} 1`)
	assert.Contains(t, string(body), "frametest_case_duration_seconds_bucket")
}
