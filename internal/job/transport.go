package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/pricewatch/internal/apperror"
	"github.com/ahmethakanbesel/pricewatch/internal/catalogsync"
)

type GetJobRequest struct {
	ID string
}

func (r GetJobRequest) Validate() *apperror.AppError {
	if _, err := uuid.Parse(r.ID); err != nil {
		return apperror.New(apperror.BadRequest, "invalid job id")
	}
	return nil
}

type ListJobsRequest struct {
	Status string
	Source string
	Limit  int
	Offset int
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	if r.Status != "" && !Status(r.Status).Valid() {
		return apperror.New(apperror.BadRequest, "status must be one of pending, running, completed, failed")
	}
	if r.Limit < 0 || r.Offset < 0 {
		return apperror.New(apperror.BadRequest, "limit and offset must not be negative")
	}
	return nil
}

type SubmitRequest struct {
	SourceKey string
	Mode      string
}

func (r SubmitRequest) Validate() *apperror.AppError {
	if r.SourceKey == "" {
		return apperror.New(apperror.BadRequest, "source is required")
	}
	if _, err := catalogsync.ParseMode(r.Mode); err != nil {
		return apperror.New(apperror.BadRequest, err.Error())
	}
	return nil
}

type SubmitAllRequest struct {
	Mode string
}

func (r SubmitAllRequest) Validate() *apperror.AppError {
	if _, err := catalogsync.ParseMode(r.Mode); err != nil {
		return apperror.New(apperror.BadRequest, err.Error())
	}
	return nil
}

type CleanupRequest struct {
	MaxAge time.Duration
}

func (r CleanupRequest) Validate() *apperror.AppError {
	if r.MaxAge <= 0 {
		return apperror.New(apperror.BadRequest, "maxAgeHours must be positive")
	}
	return nil
}
