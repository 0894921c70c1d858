package request

import (
	"go-leave/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func RegisterRoutes(
	r *gin.RouterGroup,
	handler *Handler,
	rdb *redis.Client,
) {
	requests := r.Group("/leave-requests")
	requests.Use(middleware.AuthMiddleware())
	// Per-actor limit on top of the global per-IP one: one employee
	// hammering approvals must not eat the whole IP budget of an office NAT.
	requests.Use(middleware.RateLimitByActor(rate.Limit(5), 10))
	{
		requests.POST("", middleware.Idempotency(rdb), handler.Create)
		requests.GET("/me", handler.ListMine)
		requests.GET("/:id", handler.GetById)
		requests.POST("/:id/cancel", handler.Cancel)

		approvers := requests.Group("")
		approvers.Use(middleware.RoleMiddleware("admin", "manager"))
		{
			approvers.GET("", handler.GetAll)
			approvers.GET("/summary", handler.Summary)
			approvers.GET("/employee/:employeeId", handler.ListByEmployee)
			approvers.POST("/:id/approve", middleware.Idempotency(rdb), handler.Approve)
			approvers.POST("/:id/reject", middleware.Idempotency(rdb), handler.Reject)
		}
	}
}
