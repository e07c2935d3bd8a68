package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberworks/emberos/internal/kernel"
	"github.com/emberworks/emberos/internal/process"
)

// pidParam parses the :pid route parameter. On failure it writes the
// 400 itself and reports false.
func pidParam(c *gin.Context) (process.ID, bool) {
	id, err := process.ParseID(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return process.ID{}, false
	}
	return id, true
}

// fail maps kernel errors onto HTTP status codes.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, process.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, process.ErrNoFreeSlot):
		status = http.StatusConflict
	case errors.Is(err, process.ErrRegionTooSmall):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, kernel.ErrStopped), errors.Is(err, kernel.ErrHalted):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
