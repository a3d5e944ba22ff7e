package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/yinkev/Americano-sub010/internal/api"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/service"
)

type BuildService interface {
	Enqueue(ctx context.Context, lectureID string) (*domain.GraphBuildJob, error)
	Get(ctx context.Context, id string) (*domain.GraphBuildJob, error)
	List(ctx context.Context, input service.ListBuildsInput) (*service.ListBuildsOutput, error)
}

type StatsService interface {
	Stats(ctx context.Context) (*service.GraphStats, error)
}

type GraphHandler struct {
	builds BuildService
	stats  StatsService
}

func NewGraphHandler(builds BuildService, stats StatsService) *GraphHandler {
	return &GraphHandler{builds: builds, stats: stats}
}

type EnqueueBuildRequest struct {
	LectureID string `json:"lecture_id"`
}

type BuildJobResponse struct {
	ID          string              `json:"id"`
	LectureID   string              `json:"lecture_id,omitempty"`
	Status      string              `json:"status"`
	Stage       string              `json:"stage"`
	Retries     int32               `json:"retries"`
	Error       string              `json:"error,omitempty"`
	Report      *domain.BuildReport `json:"report,omitempty"`
	CreatedAt   string              `json:"created_at"`
	StartedAt   string              `json:"started_at,omitempty"`
	ProcessedAt string              `json:"processed_at,omitempty"`
}

func buildJobToResponse(j *domain.GraphBuildJob) *BuildJobResponse {
	resp := &BuildJobResponse{
		ID:        j.ID,
		LectureID: j.LectureID,
		Status:    string(j.Status),
		Stage:     string(j.Stage),
		Retries:   j.Retries,
		Error:     j.Error,
		Report:    j.Report,
		CreatedAt: j.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format("2006-01-02T15:04:05Z")
	}
	if j.ProcessedAt != nil {
		resp.ProcessedAt = j.ProcessedAt.Format("2006-01-02T15:04:05Z")
	}
	return resp
}

// EnqueueBuild queues an async graph build. An empty body or empty
// lecture_id requests a full-corpus build.
func (h *GraphHandler) EnqueueBuild(w http.ResponseWriter, r *http.Request) {
	var req EnqueueBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.builds.Enqueue(r.Context(), req.LectureID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, buildJobToResponse(job))
}

func (h *GraphHandler) GetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := h.builds.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, buildJobToResponse(job))
}

type BuildListResponse struct {
	Items   []*BuildJobResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

func (h *GraphHandler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limitStr := r.URL.Query().Get("limit")
	limit := 20
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	output, err := h.builds.List(r.Context(), service.ListBuildsInput{
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*BuildJobResponse, len(output.Items))
	for i, j := range output.Items {
		responses[i] = buildJobToResponse(j)
	}

	api.Success(w, http.StatusOK, BuildListResponse{
		Items:   responses,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

type CategoryCountResponse struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type TypeCountResponse struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type GraphStatsResponse struct {
	Concepts      int64                   `json:"concepts"`
	Relationships int64                   `json:"relationships"`
	ByCategory    []CategoryCountResponse `json:"by_category"`
	ByType        []TypeCountResponse     `json:"by_type"`
}

func (h *GraphHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := GraphStatsResponse{
		Concepts:      stats.Concepts,
		Relationships: stats.Relationships,
		ByCategory:    make([]CategoryCountResponse, 0, len(stats.ByCategory)),
		ByType:        make([]TypeCountResponse, 0, len(stats.ByType)),
	}
	for _, c := range stats.ByCategory {
		resp.ByCategory = append(resp.ByCategory, CategoryCountResponse{
			Category: string(c.Category),
			Count:    c.Count,
		})
	}
	for _, t := range stats.ByType {
		resp.ByType = append(resp.ByType, TypeCountResponse{
			Type:  string(t.Type),
			Count: t.Count,
		})
	}

	api.Success(w, http.StatusOK, resp)
}
