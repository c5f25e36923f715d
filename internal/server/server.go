// Package server is the thin REST facade over the command dispatcher and the
// job list projection. Everything interesting happens below it.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/job"
	"github.com/yungbote/jobstream-backend/internal/logger"
	"github.com/yungbote/jobstream-backend/internal/middleware"
	"github.com/yungbote/jobstream-backend/internal/requestdata"
	"github.com/yungbote/jobstream-backend/internal/types"
)

type Server struct {
	log        *logger.Logger
	dispatcher *job.Dispatcher
	projection *job.Projection
	auth       *middleware.AuthMiddleware
}

func New(log *logger.Logger, dispatcher *job.Dispatcher, projection *job.Projection, auth *middleware.AuthMiddleware) *Server {
	return &Server{
		log:        log.With("service", "HTTPServer"),
		dispatcher: dispatcher,
		projection: projection,
		auth:       auth,
	}
}

func (s *Server) Router(serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(cors.Default())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", s.auth.RequireAuth())
	v1.GET("/jobs", s.listJobs)
	v1.POST("/jobs", s.enqueueJob)
	v1.POST("/jobs/seen", s.markListSeen)
	v1.POST("/jobs/:jobId/read", s.markJobRead)

	return router
}

type jobResource struct {
	ID             uuid.UUID       `json:"id"`
	JobType        string          `json:"jobType"`
	State          string          `json:"status"`
	ResultType     string          `json:"resultType,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Read           bool            `json:"read"`
	CreatedAt      time.Time       `json:"createdDate"`
	LastModifiedAt time.Time       `json:"lastModifiedDate"`
}

func toJobResource(row types.JobProjection) jobResource {
	return jobResource{
		ID:             row.ID,
		JobType:        row.JobType,
		State:          row.State,
		ResultType:     row.ResultType,
		Result:         json.RawMessage(row.Result),
		Read:           row.Read,
		CreatedAt:      row.CreatedAt,
		LastModifiedAt: row.LastModifiedAt,
	}
}

func (s *Server) listJobs(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	rows, lastSeen, err := s.projection.ListForUser(c.Request.Context(), rd.UserID, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]jobResource, 0, len(rows))
	for _, row := range rows {
		items = append(items, toJobResource(row))
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "lastSeen": lastSeen})
}

type enqueueRequest struct {
	JobType string                   `json:"jobType" binding:"required"`
	JobID   *uuid.UUID               `json:"jobId"`
	Context job.JsonSerializedObject `json:"serializedContext"`
	Command job.JsonSerializedObject `json:"serializedCommand"`
}

func (s *Server) enqueueJob(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	jobID := uuid.New()
	if req.JobID != nil {
		jobID = *req.JobID
	}
	result, err := s.dispatcher.Dispatch(c.Request.Context(), job.EnqueueJobCommand{
		JobType: req.JobType,
		JobID:   jobID,
		UserID:  rd.UserID,
		Context: req.Context,
		Command: req.Command,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": result.JobID, "version": result.Version})
}

type lastSeenRequest struct {
	LastSeen time.Time `json:"lastSeen" binding:"required"`
}

func (s *Server) markListSeen(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	var req lastSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.projection.MarkListSeen(c.Request.Context(), rd.UserID, req.LastSeen); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) markJobRead(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	if _, err := s.dispatcher.Dispatch(c.Request.Context(), job.MarkJobResultReadCommand{
		JobID:  jobID,
		UserID: rd.UserID,
	}); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// fail maps core errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	var precondition *eventstore.PreconditionError
	var denied *eventstore.AccessDeniedError
	switch {
	case errors.Is(err, eventstore.ErrAggregateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.As(err, &denied):
		c.JSON(http.StatusForbidden, gin.H{"error": denied.Reason})
	case errors.As(err, &precondition):
		c.JSON(http.StatusBadRequest, gin.H{"error": precondition.Key})
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflicting concurrent update, retry"})
	default:
		s.log.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
