package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type stubService struct {
	name     string
	deps     []string
	rec      *recorder
	status   Status
	startErr error
}

func (s *stubService) Name() string { return s.name }
func (s *stubService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.rec.add("start:" + s.name)
	s.status = StatusRunning
	return nil
}
func (s *stubService) Stop(context.Context) error {
	s.rec.add("stop:" + s.name)
	s.status = StatusStopped
	return nil
}
func (s *stubService) Status() Status { return s.status }
func (s *stubService) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.status != StatusRunning {
		return errors.New("not running")
	}
	return nil
}
func (s *stubService) Dependencies() []string { return s.deps }

func TestStartAllRespectsDependencies(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(nil)

	require.NoError(t, r.Register(&stubService{name: "api", deps: []string{"payment-pipeline"}, rec: rec}))
	require.NoError(t, r.Register(&stubService{name: "payment-pipeline", rec: rec}))
	assert.Error(t, r.Register(&stubService{name: "api", rec: rec}))

	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StopAll(context.Background()))

	assert.Equal(t, []string{
		"start:payment-pipeline", "start:api",
		"stop:api", "stop:payment-pipeline",
	}, rec.events)

	for name, err := range r.HealthCheck(context.Background()) {
		assert.Error(t, err, name)
	}
}

func TestStartAllDetectsCycles(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&stubService{name: "a", deps: []string{"b"}, rec: rec}))
	require.NoError(t, r.Register(&stubService{name: "b", deps: []string{"a"}, rec: rec}))

	assert.Error(t, r.StartAll(context.Background()))
}

func TestStartAllFailsOnStartError(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&stubService{name: "a", rec: &recorder{}, startErr: errors.New("boom")}))

	err := r.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestHealthCheckPassesContext(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&stubService{name: "a", rec: &recorder{}}))
	require.NoError(t, r.StartAll(context.Background()))

	assert.NoError(t, r.HealthCheck(context.Background())["a"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.HealthCheck(ctx)["a"], context.Canceled)
}

type neverHealthy struct{ stubService }

func (s *neverHealthy) Health(context.Context) error { return errors.New("still warming up") }

func TestStartAllHealthTimeout(t *testing.T) {
	r := NewRegistry(nil)
	r.HealthInterval = 5 * time.Millisecond
	r.HealthTimeout = 30 * time.Millisecond
	require.NoError(t, r.Register(&neverHealthy{stubService{name: "slow", rec: &recorder{}}}))

	err := r.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	_, err = r.Get("missing")
	assert.Error(t, err)
}
