package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/coordinator"
	"github.com/brandon/mailsync/internal/janitor"
)

type recordingSyncer struct {
	mu     sync.Mutex
	cycles []coordinator.Cycle
	limits []int
	err    error
}

func (r *recordingSyncer) SyncAll(ctx context.Context, cycle coordinator.Cycle, limit int) (*coordinator.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, cycle)
	r.limits = append(r.limits, limit)
	return &coordinator.Summary{Cycle: cycle}, r.err
}

func (r *recordingSyncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cycles)
}

type recordingCleaner struct{ runs int }

func (r *recordingCleaner) Run(context.Context) (*janitor.Report, error) {
	r.runs++
	return &janitor.Report{}, nil
}

func testConfig() Config {
	return Config{
		QuickInterval:   5 * time.Minute,
		QuickLimit:      50,
		DeepInterval:    time.Hour,
		DeepLimit:       200,
		CleanupSchedule: "@daily",
	}
}

func TestNewRegistersJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := New(&recordingSyncer{}, &recordingCleaner{}, testConfig(), logger)
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 3)
}

func TestNewRejectsBadCleanupSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := testConfig()
	cfg.CleanupSchedule = "whenever"
	_, err := New(&recordingSyncer{}, nil, cfg, logger)
	require.ErrorContains(t, err, "cleanup")
}

func TestJobsPassCycleAndLimit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	syncer := &recordingSyncer{}
	cleaner := &recordingCleaner{}
	s, err := New(syncer, cleaner, testConfig(), logger)
	require.NoError(t, err)

	s.quick()
	s.deep()
	s.cleanup()
	require.Equal(t, []coordinator.Cycle{coordinator.CycleQuick, coordinator.CycleDeep}, syncer.cycles)
	require.Equal(t, []int{50, 200}, syncer.limits)
	require.Equal(t, 1, cleaner.runs)
}

func TestFailedCycleIsLoggedNotFatal(t *testing.T) {
	logger, hook := test.NewNullLogger()
	syncer := &recordingSyncer{err: errors.New("db locked")}
	s, err := New(syncer, nil, testConfig(), logger)
	require.NoError(t, err)

	s.quick()
	s.cleanup()
	require.Equal(t, "Sync cycle failed", hook.LastEntry().Message)
}

func TestStartRunsOnStartAndStopHaltsJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	syncer := &recordingSyncer{}
	cfg := testConfig()
	cfg.OnStart = true
	s, err := New(syncer, nil, cfg, logger)
	require.NoError(t, err)

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	s.quick()
	require.Equal(t, 1, syncer.count())
}
