package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/treehealth/ndvi-monitor/internal/errs"
	"github.com/treehealth/ndvi-monitor/internal/logger"
)

// statusFor maps error kinds onto HTTP status codes
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindLookup:
		return http.StatusNotFound
	case errs.KindSamplerUnavailable:
		return http.StatusBadGateway
	case errs.KindConfiguration:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, http.ErrMissingFile) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
