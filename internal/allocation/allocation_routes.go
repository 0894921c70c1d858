package allocation

import (
	"go-leave/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, handler *Handler) {
	allocations := r.Group("/allocations")
	allocations.Use(middleware.AuthMiddleware())
	{
		allocations.GET("/me", handler.ListMine)
		allocations.GET("/employee/:employeeId", middleware.RoleMiddleware("admin", "manager"), handler.ListForEmployee)
		allocations.GET("/employee/:employeeId/type/:leaveTypeId", middleware.RoleMiddleware("admin", "manager"), handler.GetBalance)
	}
}
