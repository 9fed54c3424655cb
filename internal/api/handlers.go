package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/model"
	"github.com/rcliao/netpulse/internal/provider"
	"github.com/rcliao/netpulse/internal/stats"
	"github.com/rcliao/netpulse/internal/tracker"
)

const (
	maxEventBody      = 8 << 20
	notifyBuffer      = 64
	heartbeatInterval = 15 * time.Second
)

var errBadTab = errors.New("tabId must be an integer")

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{"status": "ok", "tabs": len(h.deps.Tracker.Tabs())}
	if h.deps.Broadcaster != nil {
		body["subscribers"] = h.deps.Broadcaster.Subscribers()
	}
	c.JSON(http.StatusOK, body)
}

// ingestEvents accepts one event object or an array of them.
func (h *handlers) ingestEvents(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var events []tracker.Event
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &events)
	} else {
		var ev tracker.Event
		err = json.Unmarshal(trimmed, &ev)
		events = []tracker.Event{ev}
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event JSON: " + err.Error()})
		return
	}

	applied := 0
	rejected := []string{}
	for _, ev := range events {
		if err := h.deps.Tracker.Apply(c.Request.Context(), ev); err != nil {
			rejected = append(rejected, err.Error())
			continue
		}
		applied++
	}

	status := http.StatusAccepted
	if applied == 0 && len(rejected) > 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"applied": applied, "rejected": rejected})
}

func tabID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("tabId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBadTab.Error()})
		return 0, false
	}
	return id, true
}

type recordsResponse struct {
	TabID      int                   `json:"tabId"`
	Records    []model.RequestRecord `json:"records"`
	Statistics stats.Statistics      `json:"statistics"`
}

func (h *handlers) getRecords(c *gin.Context) {
	id, ok := tabID(c)
	if !ok {
		return
	}
	m, err := h.deps.Tracker.GetRecords(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	records := stats.Records(m)
	c.JSON(http.StatusOK, recordsResponse{
		TabID:      id,
		Records:    records,
		Statistics: stats.Compute(c.Query("page"), records),
	})
}

func (h *handlers) clearRecords(c *gin.Context) {
	id, ok := tabID(c)
	if !ok {
		return
	}
	if err := h.deps.Tracker.ClearRecords(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) closeTab(c *gin.Context) {
	id, ok := tabID(c)
	if !ok {
		return
	}
	if err := h.deps.Tracker.OnTabClosed(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// notifications streams terminal-record notifications as SSE until the
// client disconnects.
func (h *handlers) notifications(c *gin.Context) {
	if h.deps.Broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications disabled"})
		return
	}
	ch, cancel := h.deps.Broadcaster.Subscribe(notifyBuffer)
	defer cancel()

	setSSEHeaders(c)
	c.SSEvent("connected", gin.H{"time": time.Now().UTC().Format(time.RFC3339)})
	c.Writer.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("notification", n)
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := c.Writer.WriteString(": heartbeat\n\n"); err != nil {
				h.logger.Debug("notification client gone", zap.Error(err))
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

func (h *handlers) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Cache.Stats())
}

func (h *handlers) clearCache(c *gin.Context) {
	if err := h.deps.Cache.Clear(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type domainsRequest struct {
	Domains []string `json:"domains" binding:"required,min=1"`
}

func (h *handlers) listDomains(c *gin.Context) {
	domains, err := h.deps.Domains.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if domains == nil {
		domains = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

func (h *handlers) addDomains(c *gin.Context) {
	var req domainsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	domains, err := h.deps.Domains.Add(c.Request.Context(), req.Domains...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

// removeDomains takes the domains from a JSON body or repeated ?domain=.
func (h *handlers) removeDomains(c *gin.Context) {
	names := c.QueryArray("domain")
	if len(names) == 0 {
		var req domainsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		names = req.Domains
	}
	domains, err := h.deps.Domains.Remove(c.Request.Context(), names...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		ce *provider.ConfigurationError
		ae *provider.APIError
		ne *provider.NetworkError
		te *provider.TimeoutError
	)
	switch {
	case errors.As(err, &ce):
		return http.StatusBadRequest
	case errors.As(err, &te):
		return http.StatusGatewayTimeout
	case errors.As(err, &ae), errors.As(err, &ne):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrCanceled):
		return 499
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
