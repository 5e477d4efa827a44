package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/anime-guide-crawler/internal/pipeline"
)

type fakeJob struct {
	calls   atomic.Int32
	err     error
	block   bool
	panics  bool
	entered chan struct{}
}

func newFakeJob() *fakeJob {
	return &fakeJob{entered: make(chan struct{}, 8)}
}

func (j *fakeJob) RunOnce(ctx context.Context) (pipeline.RunSummary, error) {
	j.calls.Add(1)
	j.entered <- struct{}{}
	if j.panics {
		panic("extractor blew up")
	}
	if j.block {
		<-ctx.Done()
		return pipeline.RunSummary{RunID: "blocked"}, ctx.Err()
	}
	return pipeline.RunSummary{RunID: "r1"}, j.err
}

func TestNewRejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := New(newFakeJob(), Config{Specs: []string{"not a cron"}}, nil)
	require.Error(t, err)

	_, err = New(nil, Config{}, nil)
	require.Error(t, err)
}

func TestStartRunsOnceAtStartupAndIsIdempotent(t *testing.T) {
	t.Parallel()
	job := newFakeJob()
	s, err := New(job, Config{RunOnStartup: true}, zap.NewNop())
	require.NoError(t, err)
	defer s.Shutdown()

	s.Start()
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.Equal(t, int32(1), job.calls.Load())
}

func TestStartupRunPanicIsRecovered(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.ErrorLevel)
	job := newFakeJob()
	job.panics = true
	s, err := New(job, Config{RunOnStartup: true}, zap.New(core))
	require.NoError(t, err)
	defer s.Shutdown()

	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.Equal(t, 1, logs.FilterMessage("startup crawl panicked").Len())
}

func TestWaitWithoutStartupRun(t *testing.T) {
	t.Parallel()
	s, err := New(newFakeJob(), Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background()))
}

func TestShutdownCancelsRunningCycleWithoutWaiting(t *testing.T) {
	t.Parallel()
	job := newFakeJob()
	job.block = true
	s, err := New(job, Config{RunOnStartup: true}, nil)
	require.NoError(t, err)

	s.Start()
	<-job.entered

	returned := make(chan struct{})
	go func() {
		s.Shutdown()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown blocked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	job := newFakeJob()
	job.block = true
	s, err := New(job, Config{RunOnStartup: true}, nil)
	require.NoError(t, err)
	defer s.Shutdown()

	s.Start()
	<-job.entered
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestNextRunUsesLocation(t *testing.T) {
	t.Parallel()
	shanghai := time.FixedZone("CST", 8*3600)
	s, err := New(newFakeJob(), Config{Location: shanghai}, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Shutdown()

	next, ok := s.NextRun()
	require.True(t, ok)
	local := next.In(shanghai)
	require.Contains(t, []int{9, 21}, local.Hour())
	require.Zero(t, local.Minute())
}

func TestRunLogsOutcome(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	job := newFakeJob()
	s, err := New(job, Config{}, zap.New(core))
	require.NoError(t, err)

	job.err = pipeline.ErrRunInProgress
	s.run("cron")
	job.err = errors.New("calendar down")
	s.run("cron")
	job.err = nil
	s.run("cron")

	require.Equal(t, 1, logs.FilterMessage("crawl already running, trigger skipped").Len())
	require.Equal(t, 1, logs.FilterMessage("crawl run failed").Len())
	require.Equal(t, 1, logs.FilterMessage("crawl run complete").Len())
}
