package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/classifier-api/internal/model"
)

const errNotAnImage = "File provided is not an image."

// Classifier turns raw image bytes into a prediction.
type Classifier interface {
	Classify(ctx context.Context, data []byte) (*model.Prediction, error)
	Ready() bool
}

type Handler struct {
	classifier    Classifier
	maxUploadSize int64
	log           *zap.Logger
}

func NewHandler(classifier Classifier, maxUploadSize int64, log *zap.Logger) *Handler {
	return &Handler{
		classifier:    classifier,
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

type predictForm struct {
	File *multipart.FileHeader `form:"file" binding:"required"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready reports whether the model has been loaded. It never triggers a load.
func (h *Handler) Ready(c *gin.Context) {
	if !h.classifier.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	var form predictForm
	if err := c.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "File too large"})
			return
		}
		h.log.Debug("Invalid predict form", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Field 'file' is required"})
		return
	}

	contentType := form.File.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"detail": errNotAnImage})
		return
	}

	file, err := form.File.Open()
	if err != nil {
		h.log.Error("Failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Error("Failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read file"})
		return
	}

	h.log.Debug("Received file",
		zap.String("filename", form.File.Filename),
		zap.String("content_type", contentType),
		zap.Int("size", len(data)))

	result, err := h.classifier.Classify(c.Request.Context(), data)
	switch {
	case errors.Is(err, model.ErrInvalidImage):
		cause := err
		var imgErr *model.ImageError
		if errors.As(err, &imgErr) {
			cause = imgErr.Err
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid image format: " + cause.Error()})
		return
	case errors.Is(err, model.ErrModelLoad):
		h.log.Error("Prediction failed, model unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Model is not available"})
		return
	case err != nil:
		h.log.Error("Prediction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Prediction failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}
