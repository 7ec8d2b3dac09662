package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callsplit/adapters/export"
	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
)

func (s *Server) createTest(c *gin.Context) {
	var cfg experiment.TestConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	state, err := s.registry.CreateTest(c.Request.Context(), &cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) listTests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tests": s.registry.ListTests()})
}

func (s *Server) getTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	state, err := s.registry.GetTest(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) deleteTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	if err := s.registry.DeleteTest(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	if err := s.registry.StartTest(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (s *Server) pauseTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	if err := s.registry.PauseTest(c.Request.Context(), id, reasonOf(c, "paused by operator")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	if err := s.registry.ResumeTest(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (s *Server) stopTest(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	if err := s.registry.StopTest(c.Request.Context(), id, reasonOf(c, "stopped by operator")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) results(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	res, err := s.registry.Results(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) comparison(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	cmp, err := s.registry.Compare(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (s *Server) timeSeries(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	if _, err := s.registry.GetTest(id); err != nil {
		respondError(c, err)
		return
	}

	gran := metrics.Granularity(c.DefaultQuery("granularity", string(metrics.GranularityHourly)))
	if gran != metrics.GranularityHourly && gran != metrics.GranularityDaily {
		c.JSON(http.StatusBadRequest, gin.H{"error": "granularity must be hourly or daily"})
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if from.IsZero() || to.IsZero() {
		ledger := s.registry.Metrics().Metrics(id)
		if len(ledger) == 0 {
			c.JSON(http.StatusOK, gin.H{"granularity": gran, "buckets": []metrics.TimeBucket{}})
			return
		}
		if from.IsZero() {
			from = ledger[0].Timestamp.Truncate(gran.Width())
		}
		if to.IsZero() {
			to = ledger[len(ledger)-1].Timestamp.Add(time.Nanosecond)
		}
	}
	buckets := s.registry.Metrics().TimeSeries(id, gran, from, to)
	c.JSON(http.StatusOK, gin.H{"granularity": gran, "buckets": buckets})
}

func (s *Server) pendingCalls(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	calls, err := s.registry.PendingCalls(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": calls})
}

func (s *Server) export(c *gin.Context) {
	id, ok := testID(c)
	if !ok {
		return
	}
	if _, err := s.registry.GetTest(id); err != nil {
		respondError(c, err)
		return
	}
	rows := s.registry.Metrics().Export(id)

	switch c.DefaultQuery("format", "csv") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", id))
		if err := export.WriteCSV(c.Writer, rows); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	case "xlsx":
		cmp, err := s.registry.Compare(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", id))
		if err := export.WriteXLSX(c.Writer, rows, cmp); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
	}
}

func reasonOf(c *gin.Context, fallback string) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err == nil && body.Reason != "" {
		return body.Reason
	}
	return fallback
}

// timeRange parses optional RFC3339 from/to query params; zero times select
// the full ledger.
func timeRange(c *gin.Context) (time.Time, time.Time, error) {
	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid from: %w", err)
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, fmt.Errorf("invalid to: %w", err)
		}
		to = t
	}
	return from, to, nil
}
