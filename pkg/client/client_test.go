package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixbenchproject/mixbench/internal/common/health"
	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/common/objectstore"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbench/dispatch"
	"github.com/mixbenchproject/mixbench/internal/mixbench/launcher"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
	"github.com/mixbenchproject/mixbench/internal/mixbench/server"
	"github.com/mixbenchproject/mixbench/internal/mixbench/submit"
)

const specBody = `
name: adstock-sweep
base_config:
  n_layers: 4
iterations: 100
trials: 2
variants:
  adstock:
    - name: geometric
      params:
        adstock: geometric
    - name: weibull_cdf
      params:
        adstock: weibull_cdf
`

func newTestServer(t *testing.T) (*Client, *launcher.FakeLauncher) {
	repo := repository.NewStoreQueueRepository(objectstore.NewMemoryStore(), "mixbench", 3, time.Millisecond)
	fake := launcher.NewFakeLauncher()
	dispatcher := dispatch.NewDispatcher(repo, fake, configuration.DispatchConfig{})
	submitter := submit.NewSubmitter(repo)
	checker := health.NewStartupCompleteChecker()
	checker.MarkComplete()
	srv := httptest.NewServer(server.BuildServer(repo, dispatcher, submitter, "default", checker))
	t.Cleanup(srv.Close)
	return New(srv.URL), fake
}

func TestSubmitTickStatusRoundTrip(t *testing.T) {
	c, fake := newTestServer(t)
	ctx := context.Background()

	submitted, err := c.Submit(ctx, []byte(specBody), SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "default", submitted.Queue)
	assert.Len(t, submitted.EntryIds, 2)
	assert.Equal(t, []string{"adstock:geometric", "adstock:weibull_cdf"}, submitted.VariantNames)

	ticked, err := c.Tick(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "dispatched", ticked.Kind)
	assert.NotEmpty(t, ticked.ExecutionRef)
	assert.Equal(t, 1, fake.CallCount())

	status, err := c.Status(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Counts["PENDING"])
	assert.Equal(t, 1, status.Counts["RUNNING"])
}

func TestSubmitHonoursOptions(t *testing.T) {
	c, _ := newTestServer(t)

	submitted, err := c.Submit(context.Background(), []byte(specBody), SubmitOptions{Queue: "smoke", TestRun: true})
	require.NoError(t, err)
	assert.Equal(t, "smoke", submitted.Queue)
	assert.Len(t, submitted.EntryIds, 1)
	assert.Equal(t, 2, submitted.GeneratedTotal)
}

func TestSetRunningPausesQueue(t *testing.T) {
	c, fake := newTestServer(t)
	ctx := context.Background()
	_, err := c.Submit(ctx, []byte(specBody), SubmitOptions{})
	require.NoError(t, err)

	status, err := c.SetRunning(ctx, "default", false)
	require.NoError(t, err)
	assert.False(t, status.Running)

	ticked, err := c.Tick(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "noop", ticked.Kind)
	assert.Equal(t, 0, fake.CallCount())
}

func TestStatusOfMissingQueueIsApiError(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Status(context.Background(), "ghost")

	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "ghost")
	assert.NotEmpty(t, apiErr.Remediation())
	assert.Equal(t, mixerrors.ExitUnknown, mixerrors.ExitCodeFromError(err))
}

func TestBadSpecMapsToInvalidConfigExitCode(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Submit(context.Background(), []byte("name: broken"), SubmitOptions{})

	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, mixerrors.ExitInvalidConfig, mixerrors.ExitCodeFromError(err))
}

func TestApiErrorExitCodes(t *testing.T) {
	tests := map[string]struct {
		status int
		want   int
	}{
		"bad request":  {http.StatusBadRequest, mixerrors.ExitInvalidConfig},
		"conflict":     {http.StatusConflict, mixerrors.ExitQueueBusy},
		"bad gateway":  {http.StatusBadGateway, mixerrors.ExitLauncherFailed},
		"server error": {http.StatusInternalServerError, mixerrors.ExitUnknown},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := &ApiError{StatusCode: tc.status}
			assert.Equal(t, tc.want, err.ExitCode())
		})
	}
}
