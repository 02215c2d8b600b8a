package api

import (
	"net/http"

	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	log *zap.SugaredLogger,
	progressionService service.ProgressionService,
	planService service.PlanService,
	advancementService service.AdvancementService,
) {
	progressionHandler := NewProgressionHandler(progressionService)
	planHandler := NewPlanHandler(planService)
	advancementHandler := NewAdvancementHandler(advancementService)

	router.Use(RequestLogger(log))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	protected := router.Group("/api/v1")
	protected.Use(AuthMiddleware(jwtSecret))
	{
		protected.GET("/me", func(c *gin.Context) {
			userID, ok := callerID(c)
			if !ok {
				return
			}
			role, _ := getUserRoleFromContext(c)
			c.JSON(http.StatusOK, gin.H{"userId": userID.Hex(), "role": role})
		})

		// --- Self-service progression ---
		userGroup := protected.Group("/user/progress")
		userGroup.Use(RoleMiddleware(domain.RoleUser))
		{
			userGroup.GET("", progressionHandler.GetMyProgress)
			userGroup.POST("/activate", progressionHandler.ActivateMe)
			userGroup.POST("/hold", progressionHandler.HoldMe)
			userGroup.POST("/resume", progressionHandler.ResumeMe)
		}

		adminGroup := protected.Group("/admin")
		adminGroup.Use(RoleMiddleware(domain.RoleAdmin, domain.RoleSubAdmin))
		{
			// PUT /api/v1/admin/users/{userId}/plan
			adminGroup.PUT("/users/:userId/plan", progressionHandler.AssignPlan)
			adminGroup.POST("/users/:userId/hold", progressionHandler.HoldUser)
			adminGroup.POST("/users/:userId/resume", progressionHandler.ResumeUser)
			adminGroup.GET("/users/:userId/progress", progressionHandler.GetUserProgress)
			adminGroup.GET("/users/:userId/history", progressionHandler.GetUserHistory)

			// --- Catalog and batch runs: admin only ---
			plans := adminGroup.Group("/plans", RoleMiddleware(domain.RoleAdmin))
			{
				plans.POST("", planHandler.CreatePlan)
				plans.GET("", planHandler.ListPlans)
				plans.GET("/:planId", planHandler.GetPlan)
				plans.PUT("/:planId", planHandler.UpdatePlan)
				plans.DELETE("/:planId", planHandler.DeletePlan)
			}
			adminGroup.POST("/progression/advance", RoleMiddleware(domain.RoleAdmin), advancementHandler.Advance)
		}
	}
}
