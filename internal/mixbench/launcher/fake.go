package launcher

import (
	"context"
	"fmt"
	"sync"
)

// FakeLauncher scripts launch results and captures launch calls for
// assertions. Safe for concurrent use.
type FakeLauncher struct {
	mu        sync.Mutex
	calls     []map[string]interface{}
	responses []FakeResponse
	next      int
	states    map[string]RunState
	probeErr  error
}

type FakeResponse struct {
	Ref string
	Err error
}

func NewFakeLauncher(responses ...FakeResponse) *FakeLauncher {
	return &FakeLauncher{
		responses: responses,
		states:    map[string]RunState{},
	}
}

// Launch returns the next scripted response, or a generated execution ref
// when the script is exhausted.
func (f *FakeLauncher) Launch(ctx context.Context, params map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.next < len(f.responses) {
		response := f.responses[f.next]
		f.next++
		return response.Ref, response.Err
	}
	return fmt.Sprintf("exec-%d", len(f.calls)), nil
}

func (f *FakeLauncher) Probe(ctx context.Context, executionRef string) (RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return RunStateUnknown, f.probeErr
	}
	return f.states[executionRef], nil
}

func (f *FakeLauncher) SetState(executionRef string, state RunState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[executionRef] = state
}

func (f *FakeLauncher) SetProbeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
}

func (f *FakeLauncher) Calls() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]map[string]interface{}, len(f.calls))
	copy(calls, f.calls)
	return calls
}

func (f *FakeLauncher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
