package handler

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"engagement-tracker-go/internal/model"
	"engagement-tracker-go/internal/repository"
)

var engagementTypes = []string{repository.EventTypeOpened, repository.EventTypeClicked}

// GetDashboardStats returns subscriber totals and engagement in a window,
// the last 30 days by default
func (h *Handlers) GetDashboardStats(c *gin.Context) {
	start, ok := parseTimeQuery(c, "start_date")
	if !ok {
		return
	}
	end, ok := parseTimeQuery(c, "end_date")
	if !ok {
		return
	}

	now := time.Now().UTC()
	stats := DashboardStats{PeriodStart: now.AddDate(0, 0, -30), PeriodEnd: now}
	if start != nil {
		stats.PeriodStart = *start
	}
	if end != nil {
		stats.PeriodEnd = *end
	}

	ctx := c.Request.Context()
	err := func() error {
		var err error
		if stats.TotalSubscribers, err = h.repo.CountSubscribers(ctx, ""); err != nil {
			return err
		}
		if stats.ActiveSubscribers, err = h.repo.CountSubscribers(ctx, model.StatusActive); err != nil {
			return err
		}
		if stats.TotalOpens, err = h.repo.CountEventsBetween(ctx, repository.EventTypeOpened, stats.PeriodStart, stats.PeriodEnd); err != nil {
			return err
		}
		if stats.TotalClicks, err = h.repo.CountEventsBetween(ctx, repository.EventTypeClicked, stats.PeriodStart, stats.PeriodEnd); err != nil {
			return err
		}
		if stats.TotalSubscribers == 0 {
			return nil
		}
		engaged, err := h.repo.CountEngagedSubscribers(ctx, engagementTypes, stats.PeriodStart, stats.PeriodEnd)
		if err != nil {
			return err
		}
		rate := float64(engaged) / float64(stats.TotalSubscribers) * 100
		stats.EngagementRate = math.Round(rate*100) / 100
		return nil
	}()
	if err != nil {
		h.databaseError(c, "Failed to compute dashboard stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetTopSubscribers ranks subscribers by opens, clicks or total engagement
func (h *Handlers) GetTopSubscribers(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10, 1, 100)
	if !ok {
		return
	}
	metric := c.DefaultQuery("metric", "opens")
	if metric != "opens" && metric != "clicks" && metric != "total" {
		badRequest(c, "invalid_metric", "metric must be one of opens, clicks, total")
		return
	}

	rows, err := h.repo.TopSubscribers(c.Request.Context(), metric, limit)
	if err != nil {
		h.databaseError(c, "Failed to rank subscribers", err)
		return
	}

	response := make([]TopSubscriber, 0, len(rows))
	for _, row := range rows {
		response = append(response, TopSubscriber{
			SubscriberID:    row.SubscriberID,
			Email:           row.Email,
			FirstName:       row.FirstName,
			LastName:        row.LastName,
			TotalOpens:      row.Opens,
			TotalClicks:     row.Clicks,
			TotalEngagement: row.Opens + row.Clicks,
		})
	}
	c.JSON(http.StatusOK, response)
}

// GetEngagementTrends returns daily opens and clicks for the last N days
func (h *Handlers) GetEngagementTrends(c *gin.Context) {
	days, ok := intQuery(c, "days", 30, 7, 365)
	if !ok {
		return
	}

	start := time.Now().UTC().AddDate(0, 0, -days)
	events, err := h.repo.EventsSince(c.Request.Context(), engagementTypes, start)
	if err != nil {
		h.databaseError(c, "Failed to load engagement trends", err)
		return
	}

	byDay := make(map[string]*EngagementTrend)
	for _, event := range events {
		day := event.CreatedAt.UTC().Format("2006-01-02")
		trend, exists := byDay[day]
		if !exists {
			trend = &EngagementTrend{Date: day}
			byDay[day] = trend
		}
		if event.EventType == repository.EventTypeOpened {
			trend.Opens++
		} else {
			trend.Clicks++
		}
		trend.Total++
	}

	trends := make([]EngagementTrend, 0, len(byDay))
	for _, trend := range byDay {
		trends = append(trends, *trend)
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Date < trends[j].Date })

	c.JSON(http.StatusOK, trends)
}

// GetSubscriberEvents returns the most recent events of one subscriber
func (h *Handlers) GetSubscriberEvents(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid_id", "Invalid subscriber ID")
		return
	}
	limit, ok := intQuery(c, "limit", 50, 1, 500)
	if !ok {
		return
	}

	events, err := h.repo.SubscriberEvents(c.Request.Context(), uint(id), limit)
	if err != nil {
		h.databaseError(c, "Failed to load subscriber events", err)
		return
	}

	response := make([]EventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, newEventResponse(event))
	}
	c.JSON(http.StatusOK, response)
}

func intQuery(c *gin.Context, name string, def, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		badRequest(c, "invalid_"+name, name+" must be an integer between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
		return 0, false
	}
	return value, true
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    http.StatusBadRequest,
	})
}

func (h *Handlers) databaseError(c *gin.Context, message string, err error) {
	logrus.Errorf("%s: %v", message, err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "database_error",
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}
