package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"braillescan/internal/app"
	"braillescan/internal/model"
	"braillescan/internal/transport/http/response"
)

type BrailleService interface {
	CreateSession(ctx context.Context) string
	ProcessImage(ctx context.Context, input app.ProcessInput) *app.ProcessResult
	GetSessionResults(ctx context.Context, sessionID string) []model.DetectionRecord
}

type BrailleHandler struct {
	service        BrailleService
	maxUploadBytes int64
}

func NewBrailleHandler(service BrailleService, maxUploadBytes int64) *BrailleHandler {
	return &BrailleHandler{service: service, maxUploadBytes: maxUploadBytes}
}

func (h *BrailleHandler) CreateSession(c *gin.Context) {
	sessionID := h.service.CreateSession(c.Request.Context())
	response.OK(c, gin.H{"session_id": sessionID})
}

// ProcessBraille accepts a multipart form with an "image" file and an optional
// "session_id" field.
func (h *BrailleHandler) ProcessBraille(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		// Leave headroom for the multipart envelope and the session_id field.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			response.Error(c, http.StatusRequestEntityTooLarge, response.MsgImageTooLarge)
		case hasFormValue(c, "image"):
			// A file part with an empty filename is parsed as a plain value.
			response.Error(c, http.StatusBadRequest, response.MsgNoFileSelected)
		default:
			response.Error(c, http.StatusBadRequest, response.MsgNoImageFile)
		}
		return
	}
	if file.Filename == "" {
		response.Error(c, http.StatusBadRequest, response.MsgNoFileSelected)
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.MsgImageTooLarge)
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	result := h.service.ProcessImage(c.Request.Context(), app.ProcessInput{
		ImageData: data,
		Filename:  file.Filename,
		SessionID: c.PostForm("session_id"),
	})
	response.OK(c, result)
}

func (h *BrailleHandler) GetSessionResults(c *gin.Context) {
	results := h.service.GetSessionResults(c.Request.Context(), c.Param("session_id"))
	response.OK(c, gin.H{"results": results})
}

func hasFormValue(c *gin.Context, name string) bool {
	form := c.Request.MultipartForm
	if form == nil {
		return false
	}
	_, ok := form.Value[name]
	return ok
}
