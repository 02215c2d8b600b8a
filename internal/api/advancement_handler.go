package api

import (
	"net/http"

	"wellnessplan/progress-app/internal/service"

	"github.com/gin-gonic/gin"
)

type AdvancementHandler struct {
	advancementService service.AdvancementService
}

func NewAdvancementHandler(advancementService service.AdvancementService) *AdvancementHandler {
	return &AdvancementHandler{advancementService: advancementService}
}

// Advance godoc
// @Summary Run the daily advancement now
// @Description Advances every eligible user by at most one day for today. Safe to repeat on the same day.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.AdvanceReport
// @Failure 403 {object} gin.H "Forbidden (not an admin)"
// @Failure 500 {object} gin.H "Users could not be listed"
// @Router /admin/progression/advance [post]
func (h *AdvancementHandler) Advance(c *gin.Context) {
	report, err := h.advancementService.AdvanceAllActiveUsers(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to run advancement.")
		return
	}
	c.JSON(http.StatusOK, report)
}
