package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldops/internal/database"
	"fieldops/internal/export"
	"fieldops/internal/models"
	"fieldops/internal/service"
)

// jobPayload is the wire form of a job. Dates travel as YYYY-MM-DD; an empty
// date means the job is not scheduled yet.
type jobPayload struct {
	ID              int64     `json:"id,omitempty"`
	No              string    `json:"no"`
	Date            string    `json:"date"`
	Category        string    `json:"category"`
	RequestedBy     string    `json:"requested_by"`
	TicketID        string    `json:"ticket_id"`
	LocationID      string    `json:"location_id"`
	Coordinates     string    `json:"coordinates"`
	Detail          string    `json:"detail"`
	AppointmentTime string    `json:"appointment_time"`
	Engineer1       string    `json:"engineer_1"`
	Engineer2       string    `json:"engineer_2"`
	Engineer3       string    `json:"engineer_3"`
	Accepted        bool      `json:"accepted"`
	Status          string    `json:"status"`
	Remarks         string    `json:"remarks"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

func toPayload(j *models.Job) jobPayload {
	return jobPayload{
		ID:              j.ID,
		No:              j.No,
		Date:            j.DateKey(),
		Category:        j.Category,
		RequestedBy:     j.RequestedBy,
		TicketID:        j.TicketID,
		LocationID:      j.LocationID,
		Coordinates:     j.Coordinates,
		Detail:          j.Detail,
		AppointmentTime: j.AppointmentTime,
		Engineer1:       j.Engineer1,
		Engineer2:       j.Engineer2,
		Engineer3:       j.Engineer3,
		Accepted:        j.Accepted,
		Status:          j.Status,
		Remarks:         j.Remarks,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func (p jobPayload) toJob() (*models.Job, error) {
	date, err := models.ParseDate(p.Date)
	if err != nil {
		return nil, errors.New("invalid date format; expected YYYY-MM-DD")
	}
	return &models.Job{
		No:              p.No,
		Date:            date,
		Category:        p.Category,
		RequestedBy:     p.RequestedBy,
		TicketID:        p.TicketID,
		LocationID:      p.LocationID,
		Coordinates:     p.Coordinates,
		Detail:          p.Detail,
		AppointmentTime: p.AppointmentTime,
		Engineer1:       p.Engineer1,
		Engineer2:       p.Engineer2,
		Engineer3:       p.Engineer3,
		Accepted:        p.Accepted,
		Status:          p.Status,
		Remarks:         p.Remarks,
	}, nil
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.deps.Jobs.Categories()})
}

func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var jobs []*models.Job
	if from.IsZero() && to.IsZero() {
		jobs, err = s.deps.Jobs.ListJobsForSheet(r.Context())
	} else {
		jobs, err = s.deps.Jobs.ListJobs(r.Context(), from, to)
	}
	if err != nil {
		s.requestLog(r).Error().Err(err).Msg("list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	out := make([]jobPayload, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toPayload(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.decodeJob(w, r)
	if !ok {
		return
	}
	if err := s.deps.Jobs.CreateJob(r.Context(), job); err != nil {
		s.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayload(job))
}

func (s *HTTPServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		s.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(job))
}

func (s *HTTPServer) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, ok := s.decodeJob(w, r)
	if !ok {
		return
	}
	job.ID = id
	if err := s.deps.Jobs.UpdateJob(r.Context(), job); err != nil {
		s.writeJobError(w, r, err)
		return
	}

	stored, err := s.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		s.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(stored))
}

func (s *HTTPServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Jobs.DeleteJob(r.Context(), id); err != nil {
		s.writeJobError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Jobs.ListJobsForSheet(r.Context())
	if err != nil {
		s.requestLog(r).Error().Err(err).Msg("export: list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(time.Now())+`"`)
	if err := export.WriteTo(w, s.deps.SheetName, jobs); err != nil {
		s.requestLog(r).Error().Err(err).Msg("export: write workbook")
	}
}

func (s *HTTPServer) decodeJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	var body jobPayload
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	job, err := body.toJob()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return job, true
}

func (s *HTTPServer) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInvalidTime),
		errors.Is(err, service.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.requestLog(r).Error().Err(err).Msg("job operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(models.DateKeyLayout, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + " date; expected YYYY-MM-DD")
	}
	return t, nil
}
