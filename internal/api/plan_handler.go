// internal/api/plan_handler.go
package api

import (
	"net/http"

	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/service"

	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	planService service.PlanService
}

func NewPlanHandler(planService service.PlanService) *PlanHandler {
	return &PlanHandler{planService: planService}
}

// --- DTOs for Plan Catalog ---
type CreatePlanRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	LengthDays  int    `json:"lengthDays" binding:"required,min=1"`
}

// UpdatePlanRequest uses pointers so omitted fields stay unchanged.
type UpdatePlanRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LengthDays  *int    `json:"lengthDays" binding:"omitempty,min=1"`
}

// CreatePlan godoc
// @Summary Create a plan
// @Description Adds a plan to the catalog. Names are unique among non-deleted plans.
// @Tags Plans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param plan body CreatePlanRequest true "Plan details"
// @Success 201 {object} domain.Plan
// @Failure 400 {object} gin.H "Validation error"
// @Failure 403 {object} gin.H "Forbidden (not an admin)"
// @Failure 409 {object} gin.H "Plan name already exists"
// @Router /admin/plans [post]
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	plan, err := h.planService.CreatePlan(c.Request.Context(), req.Name, req.Description, req.LengthDays)
	if err != nil {
		respondError(c, err, "Failed to create plan.")
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// ListPlans godoc
// @Summary List plans
// @Tags Plans
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Plan "Non-deleted plans, shortest first"
// @Router /admin/plans [get]
func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.planService.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to retrieve plans.")
		return
	}
	if plans == nil {
		plans = []domain.Plan{}
	}
	c.JSON(http.StatusOK, plans)
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	planID, ok := pathObjectID(c, "planId")
	if !ok {
		return
	}
	plan, err := h.planService.GetPlan(c.Request.Context(), planID)
	if err != nil {
		respondError(c, err, "Failed to retrieve plan.")
		return
	}
	c.JSON(http.StatusOK, plan)
}

// UpdatePlan godoc
// @Summary Update a plan
// @Description lengthDays cannot change once any user has been on the plan.
// @Tags Plans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param planId path string true "Plan ID"
// @Param plan body UpdatePlanRequest true "Fields to change"
// @Success 200 {object} domain.Plan
// @Failure 404 {object} gin.H "Plan not found"
// @Failure 409 {object} gin.H "Name taken, or length locked"
// @Router /admin/plans/{planId} [put]
func (h *PlanHandler) UpdatePlan(c *gin.Context) {
	planID, ok := pathObjectID(c, "planId")
	if !ok {
		return
	}
	var req UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	plan, err := h.planService.UpdatePlan(c.Request.Context(), planID, service.PlanUpdate{
		Name:        req.Name,
		Description: req.Description,
		LengthDays:  req.LengthDays,
	})
	if err != nil {
		respondError(c, err, "Failed to update plan.")
		return
	}
	c.JSON(http.StatusOK, plan)
}

// DeletePlan godoc
// @Summary Soft-delete a plan
// @Description The plan leaves the catalog and stops being a rollover target. Users already on it keep it.
// @Tags Plans
// @Security BearerAuth
// @Param planId path string true "Plan ID"
// @Success 204 "No Content"
// @Failure 404 {object} gin.H "Plan not found"
// @Router /admin/plans/{planId} [delete]
func (h *PlanHandler) DeletePlan(c *gin.Context) {
	planID, ok := pathObjectID(c, "planId")
	if !ok {
		return
	}
	if err := h.planService.DeletePlan(c.Request.Context(), planID); err != nil {
		respondError(c, err, "Failed to delete plan.")
		return
	}
	c.Status(http.StatusNoContent)
}
