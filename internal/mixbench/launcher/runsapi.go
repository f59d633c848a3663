package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
)

const (
	DefaultRunSubmitPath = "/api/2.1/jobs/runs/submit"
	DefaultRunGetPath    = "/api/2.1/jobs/runs/get"
	defaultTimeout       = 30 * time.Second

	// Response body bytes kept in diagnostics. Platform error payloads are
	// small; anything larger is noise.
	maxDiagnosticBytes = 4096
)

// RunsAPILauncher launches jobs through the compute platform's run-submission
// REST endpoint and implements StatusProber through the matching run-status
// endpoint. One launch is one POST; the entry parameters go out as the
// request body unchanged.
type RunsAPILauncher struct {
	client     *http.Client
	baseUrl    string
	submitPath string
	getPath    string
	token      string
}

func NewRunsAPILauncher(config configuration.LauncherConfig) *RunsAPILauncher {
	submitPath := config.RunSubmitPath
	if submitPath == "" {
		submitPath = DefaultRunSubmitPath
	}
	getPath := config.RunGetPath
	if getPath == "" {
		getPath = DefaultRunGetPath
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RunsAPILauncher{
		client:     &http.Client{Timeout: timeout},
		baseUrl:    strings.TrimSuffix(config.BaseUrl, "/"),
		submitPath: submitPath,
		getPath:    getPath,
		token:      config.Token,
	}
}

type runSubmitResponse struct {
	RunId json.Number `json:"run_id"`
}

type runGetResponse struct {
	State struct {
		LifeCycleState string `json:"life_cycle_state"`
	} `json:"state"`
}

func (l *RunsAPILauncher) Launch(ctx context.Context, params map[string]interface{}) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "marshalling launch parameters")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseUrl+l.submitPath, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "building launch request")
	}
	req.Header.Set("Content-Type", "application/json")
	l.authorize(req)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", errors.WithStack(&mixerrors.ErrLauncherFailed{Diagnostic: err.Error()})
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.WithStack(&mixerrors.ErrLauncherFailed{
			Diagnostic: fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(payload))),
		})
	}

	submitted := &runSubmitResponse{}
	if err := json.Unmarshal(payload, submitted); err != nil || submitted.RunId.String() == "" {
		return "", errors.WithStack(&mixerrors.ErrLauncherFailed{
			Diagnostic: fmt.Sprintf("run submission accepted but no run_id in response: %s", strings.TrimSpace(string(payload))),
		})
	}
	return submitted.RunId.String(), nil
}

// Probe asks the platform about a previously submitted run. A response the
// platform cannot match to a run maps to RunStateUnknown rather than an
// error, since that is the signal reconciliation acts on.
func (l *RunsAPILauncher) Probe(ctx context.Context, executionRef string) (RunState, error) {
	url := fmt.Sprintf("%s%s?run_id=%s", l.baseUrl, l.getPath, executionRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RunStateUnknown, errors.Wrap(err, "building probe request")
	}
	l.authorize(req)

	resp, err := l.client.Do(req)
	if err != nil {
		return RunStateUnknown, errors.Wrapf(err, "probing run %s", executionRef)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBytes))
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return RunStateUnknown, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return RunStateUnknown, errors.Errorf("probing run %s: %s: %s", executionRef, resp.Status, strings.TrimSpace(string(payload)))
	}

	state := &runGetResponse{}
	if err := json.Unmarshal(payload, state); err != nil {
		return RunStateUnknown, errors.Wrapf(err, "parsing probe response for run %s", executionRef)
	}
	switch state.State.LifeCycleState {
	case "TERMINATED", "SKIPPED", "INTERNAL_ERROR":
		return RunStateTerminal, nil
	case "":
		return RunStateUnknown, nil
	default:
		return RunStateRegistered, nil
	}
}

func (l *RunsAPILauncher) authorize(req *http.Request) {
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
}
