package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) DevRunSchedulerOnce(c *gin.Context) {
	s.runSchedulerJob(c, "run_once", s.scheduler.RunOnce)
}

func (s *Server) DevRunRetrySubmissions(c *gin.Context) {
	s.runSchedulerJob(c, "retry_submissions", s.scheduler.RetrySubmissionsJob)
}

func (s *Server) DevRunRecoverySweep(c *gin.Context) {
	s.runSchedulerJob(c, "recovery_sweep", s.scheduler.RecoverySweepJob)
}

func (s *Server) DevRunStuckSubmissions(c *gin.Context) {
	s.runSchedulerJob(c, "stuck_submissions", s.scheduler.StuckSubmissionsJob)
}

func (s *Server) runSchedulerJob(c *gin.Context, name string, job func(context.Context) error) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if err := job(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "scheduler job completed",
		"job":     name,
	})
}
