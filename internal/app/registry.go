package app

import (
	"database/sql"
	"os"

	"go-leave/internal/allocation"
	"go-leave/internal/leavetype"
	"go-leave/internal/messaging/kafka"
	"go-leave/internal/middleware"
	"go-leave/internal/request"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func registerModules(
	router *gin.Engine,
	db *sql.DB,
	gormDB *gorm.DB,
	rdb *redis.Client,
) error {
	// --- Repositories ---
	leaveTypeRepo := leavetype.NewRepository(gormDB)
	allocationRepo := allocation.NewRepository(gormDB, db)
	requestRepo := request.NewRepository(gormDB, db)
	outboxRepo := kafka.NewOutboxRepository(db)

	// --- Services ---
	allocationService := allocation.NewService(allocationRepo, leaveTypeRepo)
	requestService := request.NewService(
		db,
		requestRepo,
		allocationRepo,
		allocationService,
		outboxRepo,
		rdb,
		request.ParseCancelPolicy(os.Getenv("CANCEL_POLICY")),
	)

	// --- Handlers ---
	leaveTypeHandler := leavetype.NewHandler(leaveTypeRepo)
	allocationHandler := allocation.NewHandler(allocationService)
	requestHandler := request.NewHandlerWithRedis(requestService, rdb)

	// --- Global middleware ---
	router.Use(middleware.ContextLogger(zap.L()))
	router.Use(middleware.RateLimitByIP(rate.Limit(20), 40))

	// --- Routes Registration ---
	api := router.Group("/api/v1")
	{
		leavetype.RegisterRoutes(api, leaveTypeHandler)
		allocation.RegisterRoutes(api, allocationHandler)
		request.RegisterRoutes(api, requestHandler, rdb)
	}

	return nil
}
