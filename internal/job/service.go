package job

import (
	"context"
	"log/slog"
)

// Service is the read side of the job table used by the HTTP layer.
type Service struct {
	manager *Manager
}

func NewService(manager *Manager) *Service {
	return &Service{manager: manager}
}

func (s *Service) Get(_ context.Context, req GetJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.manager.Get(req.ID)
}

func (s *Service) List(_ context.Context, req ListJobsRequest) (*Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	page := s.manager.List(ListFilter{
		Status:    Status(req.Status),
		SourceKey: req.Source,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	return &page, nil
}

func (s *Service) Stats(_ context.Context) Stats {
	return s.manager.Stats()
}

// RunningSources lists the source keys with a running job.
func (s *Service) RunningSources(_ context.Context) []string {
	return s.manager.RunningSources()
}

type CleanupResult struct {
	Removed int `json:"removed"`
}

func (s *Service) Cleanup(_ context.Context, req CleanupRequest) (*CleanupResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	n := s.manager.Cleanup(req.MaxAge)
	slog.Info("removed finished jobs", "count", n, "maxAge", req.MaxAge.String())
	return &CleanupResult{Removed: n}, nil
}
