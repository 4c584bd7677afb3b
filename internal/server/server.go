package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mpt-warrior/ranking-engine/internal/config"
	"github.com/mpt-warrior/ranking-engine/internal/handler"
	"github.com/mpt-warrior/ranking-engine/internal/middleware"
	"github.com/mpt-warrior/ranking-engine/internal/repository"
	"github.com/mpt-warrior/ranking-engine/internal/service"
	"github.com/mpt-warrior/ranking-engine/pkg/cache"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Server struct {
	engine      *gin.Engine
	db          *gorm.DB
	redisClient *redis.Client
	scheduler   *service.Scheduler
}

func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, dispatcher service.Dispatcher) *Server {
	rankingRepo := repository.NewRankingRepository(db)
	rankingCache := cache.NewRankingCache(redisClient, cfg.CacheTTL)

	milestoneSvc := service.NewMilestoneService(dispatcher, cfg.RankSurgeMinSwing)
	ledgerSvc := service.NewLedgerService(rankingRepo, rankingCache, milestoneSvc, cfg.DedupTTL)
	rankSvc := service.NewRankService(rankingRepo, rankingCache, milestoneSvc, cfg.LeaderboardSize, cfg.TotalQuizModules)
	scheduler := service.NewScheduler(rankSvc, rankingCache, cfg.RunLockTTL)

	rankingHandler := handler.NewRankingHandler(ledgerSvc, rankSvc, redisClient, cfg.RateLimitSync)
	scheduleHandler := handler.NewScheduleHandler(scheduler, cfg.ScheduleInterval)

	router := gin.New()

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(authMiddleware.RequireAuth())
	{
		api.POST("/leaderboard/sync-points", rankingHandler.SyncPoints)
		api.GET("/leaderboard", rankingHandler.GetLeaderboard)
		api.GET("/leaderboard/user/:id", rankingHandler.GetUserRanking)

		admin := api.Group("")
		admin.Use(authMiddleware.RequireAdmin())
		{
			admin.POST("/leaderboard/recalculate", rankingHandler.Recalculate)
			admin.GET("/admin/schedule-leaderboard", scheduleHandler.GetSchedule)
			admin.POST("/admin/schedule-leaderboard", scheduleHandler.ControlSchedule)
		}
	}

	return &Server{
		engine:      router,
		db:          db,
		redisClient: redisClient,
		scheduler:   scheduler,
	}
}

// Scheduler exposes the scheduler for startup wiring.
func (s *Server) Scheduler() *service.Scheduler {
	return s.scheduler
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func setupCORS(router *gin.Engine, allowedOrigins string) {
	var origins []string
	if allowedOrigins != "" {
		origins = strings.Split(allowedOrigins, ",")
	} else {
		origins = []string{"http://localhost:3000"}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}
