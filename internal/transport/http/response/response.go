package response

import "github.com/gin-gonic/gin"

const (
	MsgNoImageFile    = "No image file provided"
	MsgNoFileSelected = "No file selected"
	MsgImageTooLarge  = "Image too large"
	MsgInternalServer = "Internal server error"
)

type ErrorBody struct {
	Error string `json:"error"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Error(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, ErrorBody{Error: message})
}

// Abort writes the error body and stops the handler chain.
func Abort(c *gin.Context, httpStatus int, message string) {
	c.AbortWithStatusJSON(httpStatus, ErrorBody{Error: message})
}
