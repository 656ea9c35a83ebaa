// internal/processor/service.go
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/cmatc13/lumenpay/pkg/service"
)

// PipelineService wraps the Pipeline as a Service
type PipelineService struct {
	pipeline *Pipeline
	// onStart runs in the background once the service is running (signing account funding)
	onStart func(ctx context.Context)

	mu     sync.RWMutex
	status service.Status
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipelineService creates a new pipeline service. onStart may be nil.
func NewPipelineService(pipeline *Pipeline, onStart func(ctx context.Context)) *PipelineService {
	return &PipelineService{
		pipeline: pipeline,
		onStart:  onStart,
		status:   service.StatusStopped,
	}
}

// Name returns the service name
func (s *PipelineService) Name() string {
	return "payment-pipeline"
}

// Pipeline returns the wrapped pipeline
func (s *PipelineService) Pipeline() *Pipeline {
	return s.pipeline
}

// Start marks the pipeline as ready and runs the startup hook in the background
func (s *PipelineService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = service.StatusStarting
	if s.onStart != nil {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.onStart(runCtx)
		}()
	}
	s.status = service.StatusRunning
	return nil
}

// Stop cancels the startup hook if it is still running
func (s *PipelineService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.status = service.StatusStopping
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.status = service.StatusStopped
	s.mu.Unlock()
	return nil
}

// Status returns the current service status
func (s *PipelineService) Status() service.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Health performs a health check
func (s *PipelineService) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Status() != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *PipelineService) Dependencies() []string {
	return []string{}
}
