package handler

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"braillescan/internal/storage"
	"braillescan/internal/transport/http/response"
)

type BlobReader interface {
	Path(key string) (string, error)
	ContentType(key string) (string, error)
}

// BlobHandler serves stored images back at the URLs the bucket hands out.
type BlobHandler struct {
	bucket BlobReader
}

func NewBlobHandler(bucket BlobReader) *BlobHandler {
	return &BlobHandler{bucket: bucket}
}

func (h *BlobHandler) Get(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	path, err := h.bucket.Path(key)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			response.Error(c, http.StatusBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		response.Error(c, http.StatusNotFound, "blob not found")
		return
	}

	if contentType, err := h.bucket.ContentType(key); err == nil {
		c.Header("Content-Type", contentType)
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.File(path)
}
