package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldops/internal/domain"
	"fieldops/internal/events"
	"fieldops/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidCategory = errors.New("unknown job category")
	ErrInvalidTime     = errors.New("appointment time must be HH:MM")
	ErrInvalidJob      = errors.New("invalid job")
)

// JobService owns the job log. Every mutation publishes a job event; the sheet
// is brought up to date by event subscribers and their failures never reach
// the caller.
type JobService struct {
	repo       domain.JobRepository
	eventBus   domain.EventPublisher
	categories []string
	logger     *zerolog.Logger
}

func NewJobService(repo domain.JobRepository, eventBus domain.EventPublisher, categories []string, logger *zerolog.Logger) *JobService {
	if len(categories) == 0 {
		categories = models.DefaultCategories
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &JobService{
		repo:       repo,
		eventBus:   eventBus,
		categories: categories,
		logger:     logger,
	}
}

func (s *JobService) Categories() []string {
	return append([]string(nil), s.categories...)
}

// ValidateJob normalizes and checks user-editable fields.
func (s *JobService) ValidateJob(job *models.Job) error {
	if job == nil {
		return ErrInvalidJob
	}
	job.No = strings.TrimSpace(job.No)
	job.Category = strings.TrimSpace(job.Category)
	job.AppointmentTime = strings.TrimSpace(job.AppointmentTime)

	if !s.knownCategory(job.Category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, job.Category)
	}
	if job.AppointmentTime != "" {
		t, err := time.Parse(models.SheetTimeLayout, job.AppointmentTime)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidTime, job.AppointmentTime)
		}
		job.AppointmentTime = t.Format(models.SheetTimeLayout)
	}
	return nil
}

func (s *JobService) knownCategory(category string) bool {
	for _, c := range s.categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

func (s *JobService) CreateJob(ctx context.Context, job *models.Job) error {
	if err := s.ValidateJob(job); err != nil {
		return err
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return err
	}

	s.logger.Info().Int64("job_id", job.ID).Str("no", job.No).Str("date", job.DateKey()).Msg("job created")
	s.publishEvent(events.EventJobCreated, job)
	return nil
}

func (s *JobService) UpdateJob(ctx context.Context, job *models.Job) error {
	if err := s.ValidateJob(job); err != nil {
		return err
	}
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.logger.Info().Int64("job_id", job.ID).Msg("job updated")
	s.publishEvent(events.EventJobUpdated, job)
	return nil
}

func (s *JobService) DeleteJob(ctx context.Context, id int64) error {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteJob(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Int64("job_id", id).Msg("job deleted")
	s.publishEvent(events.EventJobDeleted, job)
	return nil
}

func (s *JobService) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, from, to time.Time) ([]*models.Job, error) {
	return s.repo.ListJobs(ctx, from, to)
}

func (s *JobService) ListJobsForSheet(ctx context.Context) ([]*models.Job, error) {
	return s.repo.ListJobsForSheet(ctx)
}

func (s *JobService) publishEvent(eventType string, job *models.Job) {
	if s.eventBus == nil {
		return
	}
	payload := events.JobEventPayload{
		JobID:    job.ID,
		No:       job.No,
		Date:     job.Date,
		Category: job.Category,
		Status:   job.Status,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Int64("job_id", job.ID).Msg("publish event")
	}
}
