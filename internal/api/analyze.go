package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/netpulse/internal/provider"
	"github.com/rcliao/netpulse/internal/stats"
)

type analyzeRequest struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Language  string `json:"language"`
	APIKey    string `json:"apiKey"`
	Endpoint  string `json:"endpoint"`
	MaxTokens int    `json:"maxTokens"`
	Stream    bool   `json:"stream"`
	Page      string `json:"page"`
	Focus     string `json:"focus"`
}

type chunkEvent struct {
	Delta string `json:"delta"`
	Full  string `json:"full"`
}

// analyze summarizes the tab's records and runs an analysis. With
// stream=true the response is SSE: chunk events, then one result or error
// event.
func (h *handlers) analyze(c *gin.Context) {
	id, ok := tabID(c)
	if !ok {
		return
	}
	var body analyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	req, err := h.buildRequest(body)
	if err != nil {
		h.fail(c, err)
		return
	}

	m, err := h.deps.Tracker.GetRecords(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(m) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no records for tab"})
		return
	}
	req.Data = provider.AnalysisData{
		Statistics: stats.Compute(body.Page, stats.Records(m)),
		Focus:      body.Focus,
	}

	if !body.Stream {
		res, err := h.deps.Client.Send(c.Request.Context(), req)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	setSSEHeaders(c)
	c.Status(http.StatusOK)
	res, err := h.deps.Client.Stream(c.Request.Context(), req, func(delta, full string) {
		c.SSEvent("chunk", chunkEvent{Delta: delta, Full: full})
		c.Writer.Flush()
	})
	if err != nil {
		_ = c.Error(err)
		c.SSEvent("error", gin.H{"error": err.Error(), "status": statusFor(err)})
		c.Writer.Flush()
		return
	}
	c.SSEvent("result", res)
	c.Writer.Flush()
}

// buildRequest applies configured defaults and rejects unknown providers
// and languages before any work is done.
func (h *handlers) buildRequest(body analyzeRequest) (provider.Request, error) {
	ai := h.deps.AI
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}

	id, err := provider.ParseID(pick(body.Provider, ai.Provider))
	if err != nil {
		return provider.Request{}, err
	}
	lang, err := provider.ParseLanguage(pick(body.Language, ai.Language))
	if err != nil {
		return provider.Request{}, err
	}
	maxTokens := body.MaxTokens
	if maxTokens <= 0 {
		maxTokens = ai.MaxTokens
	}
	return provider.Request{
		Provider:  id,
		Model:     pick(body.Model, ai.Model),
		APIKey:    pick(body.APIKey, ai.APIKey),
		Language:  string(lang),
		Endpoint:  pick(body.Endpoint, ai.Endpoint),
		MaxTokens: maxTokens,
	}, nil
}
