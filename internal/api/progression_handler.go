// internal/api/progression_handler.go
package api

import (
	"context"
	"net/http"

	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ProgressionHandler struct {
	progressionService service.ProgressionService
}

func NewProgressionHandler(progressionService service.ProgressionService) *ProgressionHandler {
	return &ProgressionHandler{progressionService: progressionService}
}

// --- DTOs ---
type AssignPlanRequest struct {
	PlanID string `json:"planId" binding:"required"`
}

// --- Self-service (user role) ---

// GetMyProgress godoc
// @Summary Get the caller's plan progress
// @Description Returns the current plan, day, hold state and the unlocked day list (latest first).
// @Tags Progress
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.Progress
// @Failure 401 {object} gin.H "Unauthorized"
// @Failure 404 {object} gin.H "User not found"
// @Router /user/progress [get]
func (h *ProgressionHandler) GetMyProgress(c *gin.Context) {
	h.forCaller(c, h.progressionService.GetProgress, "Failed to load progress.")
}

// ActivateMe godoc
// @Summary Activate the caller's program
// @Description Marks the caller as activated and starts progression on day 1 if it never started. Idempotent.
// @Tags Progress
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.Progress
// @Failure 404 {object} gin.H "User not found"
// @Router /user/progress/activate [post]
func (h *ProgressionHandler) ActivateMe(c *gin.Context) {
	h.forCaller(c, h.progressionService.Activate, "Failed to activate.")
}

// HoldMe godoc
// @Summary Pause the caller's progression
// @Tags Progress
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.Progress
// @Failure 404 {object} gin.H "User not found"
// @Failure 409 {object} gin.H "No active plan, or already on hold"
// @Router /user/progress/hold [post]
func (h *ProgressionHandler) HoldMe(c *gin.Context) {
	h.forCaller(c, h.progressionService.Hold, "Failed to hold progression.")
}

// ResumeMe godoc
// @Summary Resume the caller's progression
// @Tags Progress
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.Progress
// @Failure 404 {object} gin.H "User not found"
// @Failure 409 {object} gin.H "No active plan, or not on hold"
// @Router /user/progress/resume [post]
func (h *ProgressionHandler) ResumeMe(c *gin.Context) {
	h.forCaller(c, h.progressionService.Resume, "Failed to resume progression.")
}

// --- Operator actions (admin / subadmin) ---

// AssignPlan godoc
// @Summary Assign a plan to a user
// @Description Upgrade-only: the plan must be longer than the user's current plan and every plan in their history.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Param request body AssignPlanRequest true "Plan to assign"
// @Success 200 {object} domain.Progress
// @Failure 400 {object} gin.H "Invalid ID"
// @Failure 404 {object} gin.H "User or plan not found"
// @Failure 409 {object} gin.H "Plan too short, or identical plan already active"
// @Router /admin/users/{userId}/plan [put]
func (h *ProgressionHandler) AssignPlan(c *gin.Context) {
	userID, ok := pathObjectID(c, "userId")
	if !ok {
		return
	}
	var req AssignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	planID, err := primitive.ObjectIDFromHex(req.PlanID)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid planId format.")
		return
	}

	progress, err := h.progressionService.AssignPlan(c.Request.Context(), userID, planID)
	if err != nil {
		respondError(c, err, "Failed to assign plan.")
		return
	}
	c.JSON(http.StatusOK, progress)
}

// HoldUser godoc
// @Summary Put a user's progression on hold
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} domain.Progress
// @Router /admin/users/{userId}/hold [post]
func (h *ProgressionHandler) HoldUser(c *gin.Context) {
	h.forPathUser(c, h.progressionService.Hold, "Failed to hold progression.")
}

// ResumeUser godoc
// @Summary Resume a user's progression
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} domain.Progress
// @Router /admin/users/{userId}/resume [post]
func (h *ProgressionHandler) ResumeUser(c *gin.Context) {
	h.forPathUser(c, h.progressionService.Resume, "Failed to resume progression.")
}

func (h *ProgressionHandler) GetUserProgress(c *gin.Context) {
	h.forPathUser(c, h.progressionService.GetProgress, "Failed to load progress.")
}

// GetUserHistory godoc
// @Summary List a user's plan assignment history
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {array} domain.HistoryEntry "Newest first"
// @Failure 404 {object} gin.H "User not found"
// @Router /admin/users/{userId}/history [get]
func (h *ProgressionHandler) GetUserHistory(c *gin.Context) {
	userID, ok := pathObjectID(c, "userId")
	if !ok {
		return
	}
	entries, err := h.progressionService.GetHistory(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to load history.")
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

type progressFunc func(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error)

func (h *ProgressionHandler) forCaller(c *gin.Context, fn progressFunc, failMsg string) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	h.respondProgress(c, fn, userID, failMsg)
}

func (h *ProgressionHandler) forPathUser(c *gin.Context, fn progressFunc, failMsg string) {
	userID, ok := pathObjectID(c, "userId")
	if !ok {
		return
	}
	h.respondProgress(c, fn, userID, failMsg)
}

func (h *ProgressionHandler) respondProgress(c *gin.Context, fn progressFunc, userID primitive.ObjectID, failMsg string) {
	progress, err := fn(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, failMsg)
		return
	}
	c.JSON(http.StatusOK, progress)
}
