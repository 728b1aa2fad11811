package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

// statusFor maps a service error kind to its HTTP status.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindAuth:
		return http.StatusUnauthorized
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindGone:
		return http.StatusGone
	case services.KindLocked:
		return http.StatusLocked
	case services.KindCapacity:
		return http.StatusServiceUnavailable
	case services.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err in the JSONResponse envelope. Conflicts
// carry the authoritative state in data.
func respondServiceError(c *gin.Context, err error) {
	svcErr, ok := services.AsError(err)
	if !ok {
		utils.ErrorLogger.WithError(err).WithField("path", c.FullPath()).Error("unhandled error")
		utils.RespondErrorCode(c, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
		return
	}
	utils.RespondErrorCode(c, statusFor(svcErr.Kind), svcErr.Code, svcErr.Message, svcErr.Current)
}

func respondBindError(c *gin.Context, err error) {
	utils.RespondErrorCode(c, http.StatusBadRequest, services.CodeInvalidRequest, err.Error(), nil)
}

// checkSession rejects bodies that name a session other than the token's.
func checkSession(p *services.Principal, sessionPID string) error {
	if sessionPID != "" && sessionPID != p.Session.PID {
		return &services.Error{Kind: services.KindForbidden, Code: services.CodeNotOwner, Message: "token does not belong to this session"}
	}
	return nil
}
