package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/phixlab/nutrilens/backend/internal/middleware"
	"github.com/phixlab/nutrilens/backend/internal/model"
)

const analyzeFailedMessage = "Failed to analyze image"

// MacroEstimator produces the macros returned by the mock ingestion endpoint
type MacroEstimator interface {
	Estimate(ctx context.Context) (model.Macros, error)
}

// IngestHandler serves the local mock analysis endpoint
type IngestHandler struct {
	estimator MacroEstimator
	log       *logrus.Entry
}

func NewIngestHandler(estimator MacroEstimator) *IngestHandler {
	return &IngestHandler{
		estimator: estimator,
		log:       logrus.WithField("component", "ingest"),
	}
}

func (h *IngestHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/analyze", middleware.Recovery(analyzeFailedMessage), h.Analyze)
}

// Analyze accepts a multipart image and answers with mock macros
func (h *IngestHandler) Analyze(c *gin.Context) {
	header, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		return
	}
	if err != nil {
		h.log.WithError(err).Warn("Failed to parse analysis form")
		c.JSON(http.StatusInternalServerError, gin.H{"error": analyzeFailedMessage})
		return
	}

	macros, err := h.estimator.Estimate(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Mock analysis failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": analyzeFailedMessage})
		return
	}

	h.log.WithFields(logrus.Fields{
		"image":    header.Filename,
		"bytes":    header.Size,
		"calories": float64(macros.Calories),
	}).Debug("Served mock analysis")
	c.JSON(http.StatusOK, macros)
}
