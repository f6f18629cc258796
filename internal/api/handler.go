// Package api exposes the analytics read endpoints, job status and the manual
// triggers for collection and aggregation.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bizi-lab/stationpulse/internal/analytics"
	httperr "github.com/bizi-lab/stationpulse/internal/core/errors"
)

const (
	defaultRankingLimit = 20
	maxRankingLimit     = 100
	defaultAlertLimit   = 50
	maxAlertLimit       = 500
)

// ReadStore is the query side the handlers serve from.
type ReadStore interface {
	LatestRankings(ctx context.Context, sort string, limit int) ([]analytics.RankingEntry, error)
	PatternsByStation(ctx context.Context, stationID string) ([]analytics.PatternCell, error)
	HeatmapByStation(ctx context.Context, stationID string) ([]analytics.HeatmapCell, error)
	ActiveAlerts(ctx context.Context, limit int) ([]analytics.Alert, error)
}

// PipelineRunner triggers one aggregation tick.
type PipelineRunner interface {
	Run(ctx context.Context) error
}

// CollectorRunner triggers one feed collection.
type CollectorRunner interface {
	CollectOnce(ctx context.Context) (stations int, inserted int64, err error)
}

// StateReporter exposes a job's run tracking.
type StateReporter interface {
	Snapshot() analytics.JobSnapshot
}

// SchedulerFlags reports which periodic jobs this process runs on a schedule.
// Manual triggers work either way.
type SchedulerFlags struct {
	AggregationScheduled bool `json:"aggregation_scheduled"`
	CollectionScheduled  bool `json:"collection_scheduled"`
}

// Handler serves the v1 API.
type Handler struct {
	store          ReadStore
	pipeline       PipelineRunner
	collector      CollectorRunner
	pipelineState  StateReporter
	collectorState StateReporter
	scheduler      SchedulerFlags
}

// NewHandler wires the API against its stores and job triggers.
func NewHandler(store ReadStore, pipeline PipelineRunner, collector CollectorRunner, pipelineState, collectorState StateReporter, scheduler SchedulerFlags) *Handler {
	return &Handler{
		store:          store,
		pipeline:       pipeline,
		collector:      collector,
		pipelineState:  pipelineState,
		collectorState: collectorState,
		scheduler:      scheduler,
	}
}

// RegisterRoutes registers all v1 routes on the given router.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/rankings", h.HandleRankings)
	r.GET("/v1/stations/:station_id/patterns", h.HandlePatterns)
	r.GET("/v1/stations/:station_id/heatmap", h.HandleHeatmap)
	r.GET("/v1/alerts", h.HandleAlerts)
	r.GET("/v1/status", h.HandleStatus)
	r.POST("/v1/collect", h.HandleCollect)
	r.POST("/v1/aggregate/run", h.HandleAggregateRun)
}

type rankingResponse struct {
	StationID     string    `json:"station_id"`
	TurnoverScore float64   `json:"turnover_score"`
	EmptyHours    int64     `json:"empty_hours"`
	FullHours     int64     `json:"full_hours"`
	TotalHours    int64     `json:"total_hours"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
}

// HandleRankings handles GET /v1/rankings?sort=turnover|availability&limit=N
func (h *Handler) HandleRankings(c *gin.Context) {
	var query struct {
		Sort  string `form:"sort,default=turnover" binding:"omitempty,oneof=turnover availability"`
		Limit int    `form:"limit,default=20" binding:"omitempty,min=1"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamsError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}
	if query.Limit <= 0 {
		query.Limit = defaultRankingLimit
	}
	if query.Limit > maxRankingLimit {
		query.Limit = maxRankingLimit
	}

	entries, err := h.store.LatestRankings(c.Request.Context(), query.Sort, query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query rankings",
			Details:   err.Error(),
		})
		return
	}

	out := make([]rankingResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, rankingResponse{
			StationID:     e.StationID,
			TurnoverScore: e.TurnoverScore,
			EmptyHours:    e.EmptyHours,
			FullHours:     e.FullHours,
			TotalHours:    e.TotalHours,
			WindowStart:   e.WindowStart,
			WindowEnd:     e.WindowEnd,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sort": query.Sort, "rankings": out})
}

type patternResponse struct {
	DayType      string  `json:"day_type"`
	Hour         int     `json:"hour"`
	BikesAvg     float64 `json:"bikes_avg"`
	AnchorsAvg   float64 `json:"anchors_avg"`
	OccupancyAvg float64 `json:"occupancy_avg"`
	SampleCount  int64   `json:"sample_count"`
}

// HandlePatterns handles GET /v1/stations/:station_id/patterns
func (h *Handler) HandlePatterns(c *gin.Context) {
	var uri struct {
		StationID string `uri:"station_id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamsError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	cells, err := h.store.PatternsByStation(c.Request.Context(), uri.StationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query patterns",
			Details:   err.Error(),
		})
		return
	}

	out := make([]patternResponse, 0, len(cells))
	for _, cell := range cells {
		out = append(out, patternResponse{
			DayType:      string(cell.DayType),
			Hour:         cell.Hour,
			BikesAvg:     cell.BikesAvg,
			AnchorsAvg:   cell.AnchorsAvg,
			OccupancyAvg: cell.OccupancyAvg,
			SampleCount:  cell.SampleCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"station_id": uri.StationID, "patterns": out})
}

type heatmapResponse struct {
	DayOfWeek    int     `json:"day_of_week"`
	Hour         int     `json:"hour"`
	BikesAvg     float64 `json:"bikes_avg"`
	AnchorsAvg   float64 `json:"anchors_avg"`
	OccupancyAvg float64 `json:"occupancy_avg"`
	SampleCount  int64   `json:"sample_count"`
}

// HandleHeatmap handles GET /v1/stations/:station_id/heatmap
func (h *Handler) HandleHeatmap(c *gin.Context) {
	var uri struct {
		StationID string `uri:"station_id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamsError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	cells, err := h.store.HeatmapByStation(c.Request.Context(), uri.StationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query heatmap",
			Details:   err.Error(),
		})
		return
	}

	out := make([]heatmapResponse, 0, len(cells))
	for _, cell := range cells {
		out = append(out, heatmapResponse{
			DayOfWeek:    cell.DayOfWeek,
			Hour:         cell.Hour,
			BikesAvg:     cell.BikesAvg,
			AnchorsAvg:   cell.AnchorsAvg,
			OccupancyAvg: cell.OccupancyAvg,
			SampleCount:  cell.SampleCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"station_id": uri.StationID, "heatmap": out})
}

type alertResponse struct {
	ID          int64     `json:"id"`
	StationID   string    `json:"station_id"`
	Type        string    `json:"type"`
	Severity    int       `json:"severity"`
	MetricValue float64   `json:"metric_value"`
	WindowHours int       `json:"window_hours"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HandleAlerts handles GET /v1/alerts?limit=N
func (h *Handler) HandleAlerts(c *gin.Context) {
	var query struct {
		Limit int `form:"limit,default=50" binding:"omitempty,min=1"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidParamsError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}
	if query.Limit <= 0 {
		query.Limit = defaultAlertLimit
	}
	if query.Limit > maxAlertLimit {
		query.Limit = maxAlertLimit
	}

	alerts, err := h.store.ActiveAlerts(c.Request.Context(), query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query alerts",
			Details:   err.Error(),
		})
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertResponse{
			ID:          a.ID,
			StationID:   a.StationID,
			Type:        string(a.Type),
			Severity:    a.Severity,
			MetricValue: a.MetricValue,
			WindowHours: a.WindowHours,
			GeneratedAt: a.GeneratedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

// HandleStatus handles GET /v1/status
func (h *Handler) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipeline":  h.pipelineState.Snapshot(),
		"collector": h.collectorState.Snapshot(),
		"scheduler": h.scheduler,
	})
}

// HandleCollect handles POST /v1/collect
func (h *Handler) HandleCollect(c *gin.Context) {
	stations, inserted, err := h.collector.CollectOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Collection failed",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stations": stations, "samples_inserted": inserted})
}

// HandleAggregateRun handles POST /v1/aggregate/run. A concurrently running
// pipeline answers 409 so operators can tell "busy" from "broken".
func (h *Handler) HandleAggregateRun(c *gin.Context) {
	if err := h.pipeline.Run(c.Request.Context()); err != nil {
		if errors.Is(err, analytics.ErrPipelineBusy) {
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpConflictError,
				Message:   "Aggregation already running",
				Details:   err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Aggregation failed",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}
