package api

import (
	"net/http"

	"wellnessplan/progress-app/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// respondError maps a service error onto an HTTP status. Transient failures
// are reported generically; the cause goes to the request log.
func respondError(c *gin.Context, err error, fallback string) {
	switch service.KindOf(err) {
	case service.KindNotFound:
		abortWithError(c, http.StatusNotFound, err.Error())
	case service.KindInvalidTransition, service.KindConflict:
		abortWithError(c, http.StatusConflict, err.Error())
	case service.KindInvalid:
		abortWithError(c, http.StatusBadRequest, err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, fallback)
	}
}

// pathObjectID reads an ObjectID path parameter, answering 400 when malformed.
func pathObjectID(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid "+name+" format.")
		return primitive.NilObjectID, false
	}
	return id, true
}

// callerID is the authenticated user's ID.
func callerID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return primitive.NilObjectID, false
	}
	return id, true
}
