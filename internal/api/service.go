// internal/api/service.go
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/cmatc13/lumenpay/pkg/logging"
	"github.com/cmatc13/lumenpay/pkg/service"
)

// APIService wraps the API server as a Service
type APIService struct {
	server *Server
	logger *logging.Logger

	mu      sync.RWMutex
	status  service.Status
	serveWg sync.WaitGroup
	lastErr error
}

// NewAPIService creates a new API service around an assembled server
func NewAPIService(server *Server) *APIService {
	return &APIService{
		server: server,
		logger: server.logger,
		status: service.StatusStopped,
	}
}

// Name returns the service name
func (s *APIService) Name() string {
	return "api"
}

// Start begins serving in the background
func (s *APIService) Start(ctx context.Context) error {
	s.setStatus(service.StatusStarting, nil)
	s.logger.Info("Starting API service")

	s.serveWg.Add(1)
	go func() {
		defer s.serveWg.Done()
		if err := s.server.Start(); err != nil {
			s.logger.Error("API server stopped unexpectedly", "error", err)
			s.setStatus(service.StatusError, err)
		}
	}()

	s.setStatus(service.StatusRunning, nil)
	s.logger.Info("API service started successfully")
	return nil
}

// Stop gracefully shuts down the service
func (s *APIService) Stop(ctx context.Context) error {
	s.setStatus(service.StatusStopping, nil)
	s.logger.Info("Stopping API service")

	err := s.server.Shutdown(ctx)
	s.serveWg.Wait()

	s.setStatus(service.StatusStopped, err)
	s.logger.Info("API service stopped")
	return err
}

func (s *APIService) setStatus(status service.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// a listen failure sticks until the next Start
	if s.status == service.StatusError && status == service.StatusRunning {
		return
	}
	s.status = status
	if err != nil {
		s.lastErr = err
	}
}

// Status returns the current service status
func (s *APIService) Status() service.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Health performs a health check
func (s *APIService) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == service.StatusError {
		return fmt.Errorf("api server failed: %w", s.lastErr)
	}
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *APIService) Dependencies() []string {
	return []string{"payment-pipeline"}
}
