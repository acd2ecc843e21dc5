package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"herald/pkg/apperr"
)

// Envelope represents the common response contract.
type Envelope struct {
	Data  interface{}   `json:"data,omitempty"`
	Error *apperr.Error `json:"error,omitempty"`
}

// JSON sends a success response.
func JSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, Envelope{Data: data})
}

func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data)
}

// Error sends an error response converting err to the common structure.
func Error(c *gin.Context, err error) {
	ErrorWithData(c, err, nil)
}

// ErrorWithData is Error with a data payload, used when a record was stored
// even though the request failed.
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	appErr := apperr.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Data: data, Error: appErr})
}
