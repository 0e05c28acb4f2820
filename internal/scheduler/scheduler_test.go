package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/domain"
)

type fakeSymbols struct {
	holdings []string
	all      []string
	err      error
}

func (f *fakeSymbols) ListHoldings() ([]string, error) { return f.holdings, f.err }
func (f *fakeSymbols) ListSymbols() ([]string, error)  { return f.all, f.err }

type fakeWorkflowRunner struct {
	mu      sync.Mutex
	symbols []string
	mode    domain.RefreshMode
	err     error
}

func (f *fakeWorkflowRunner) Run(_ context.Context, mode domain.RefreshMode, symbols []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = symbols
	f.mode = mode
	return "wf-test", f.err
}

type fakeRefresher struct {
	mu      sync.Mutex
	calls   []string
	maxPar  int
	current int
	err     error
}

func (f *fakeRefresher) RefreshData(_ context.Context, symbol string, _ []domain.DataType, mode domain.RefreshMode, force bool) (*domain.SymbolRefreshResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.current++
	if f.current > f.maxPar {
		f.maxPar = f.current
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.current--
		f.mu.Unlock()
	}()

	if f.err != nil {
		return nil, f.err
	}
	return &domain.SymbolRefreshResult{Symbol: symbol, Mode: mode}, nil
}

func TestDailyRefreshJobUsesHoldings(t *testing.T) {
	runner := &fakeWorkflowRunner{}
	job := NewDailyRefreshJob(runner, &fakeSymbols{
		holdings: []string{"NVDA", "AAPL"},
		all:      []string{"NVDA", "AAPL", "MSFT"},
	}, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, []string{"NVDA", "AAPL"}, runner.symbols)
	assert.Equal(t, domain.ModeScheduled, runner.mode)
}

func TestDailyRefreshJobFallsBackToAllSymbols(t *testing.T) {
	runner := &fakeWorkflowRunner{}
	job := NewDailyRefreshJob(runner, &fakeSymbols{all: []string{"MSFT"}}, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Equal(t, []string{"MSFT"}, runner.symbols)
}

func TestDailyRefreshJobNoSymbolsIsNoop(t *testing.T) {
	runner := &fakeWorkflowRunner{}
	job := NewDailyRefreshJob(runner, &fakeSymbols{}, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Nil(t, runner.symbols)
}

func TestDailyRefreshJobPropagatesWorkflowError(t *testing.T) {
	runner := &fakeWorkflowRunner{err: errors.New("boom")}
	job := NewDailyRefreshJob(runner, &fakeSymbols{holdings: []string{"NVDA"}}, zerolog.Nop())

	require.Error(t, job.Run())
}

func TestPeriodicTickJobFansOut(t *testing.T) {
	refresher := &fakeRefresher{}
	symbols := []string{"A", "B", "C", "D", "E"}
	job := NewPeriodicTickJob(refresher, &fakeSymbols{holdings: symbols}, 2, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Len(t, refresher.calls, len(symbols))
	assert.LessOrEqual(t, refresher.maxPar, 2)
}

func TestPeriodicTickJobToleratesSymbolFailure(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("provider down")}
	job := NewPeriodicTickJob(refresher, &fakeSymbols{holdings: []string{"A", "B"}}, 4, zerolog.Nop())

	// Failures are logged per symbol, not propagated.
	require.NoError(t, job.Run())
	assert.Len(t, refresher.calls, 2)
}

func TestSchedulerRunsRegisteredJob(t *testing.T) {
	s := New(zerolog.Nop())

	job := &countingJob{}
	require.NoError(t, s.AddJob("@every 1h", job))
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop())
	require.Error(t, s.AddJob("not a spec", &countingJob{}))
}

func TestDailySpec(t *testing.T) {
	assert.Equal(t, "0 30 17 * * *", DailySpec(17, 30))
	assert.Equal(t, "0 0 6 * * *", DailySpec(6, 0))
}

type countingJob struct{ runs int }

func (j *countingJob) Run() error   { j.runs++; return nil }
func (j *countingJob) Name() string { return "counting" }
