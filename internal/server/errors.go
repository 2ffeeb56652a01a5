package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tukilabs/benefit/internal/apperror"
)

// AbortWithError maps a service error onto an HTTP status and a
// field-indexed JSON error body.
func AbortWithError(c *gin.Context, err error) {
	appErr, ok := apperror.AsError(err)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal", "message": "internal server error"},
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperror.KindValidation:
		status = http.StatusBadRequest
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindConflict:
		status = http.StatusConflict
	case apperror.KindBusinessRule:
		status = http.StatusUnprocessableEntity
	case apperror.KindIntegrity:
		status = http.StatusInternalServerError
	case apperror.KindExternal:
		status = http.StatusBadGateway
	}

	body := gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	}
	if len(appErr.Fields) > 0 {
		fields := gin.H{}
		for _, f := range appErr.Fields {
			fields[f.Field] = gin.H{"code": f.Code, "message": f.Message}
		}
		body["error"].(gin.H)["fields"] = fields
	}

	c.AbortWithStatusJSON(status, body)
}

func invalidRequestError() error {
	return apperror.New(apperror.KindValidation, "invalid_request", "request body could not be parsed")
}

func invalidIDError(param string) error {
	return apperror.Validation(param, "invalid_id", "identifier is not valid")
}
