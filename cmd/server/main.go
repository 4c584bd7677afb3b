package main

import (
	"context"
	"log"

	"github.com/mpt-warrior/ranking-engine/internal/bootstrap"
	"github.com/mpt-warrior/ranking-engine/internal/config"
	"github.com/mpt-warrior/ranking-engine/internal/server"
	"github.com/mpt-warrior/ranking-engine/internal/service"
	"github.com/mpt-warrior/ranking-engine/pkg/database"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db := database.Connect()
	if err := bootstrap.Migrate(db); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	if cfg.AppEnv == "development" {
		if err := bootstrap.SeedDevWarriors(db); err != nil {
			log.Fatalf("failed to seed dev warriors: %v", err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("redis unreachable, running without cache: %v", err)
			redisClient = nil
		}
	} else {
		log.Printf("REDIS_URL not configured, running without cache")
	}

	srv := server.NewServer(cfg, db, redisClient, service.LogDispatcher{})

	if cfg.ScheduleInterval > 0 {
		if _, err := srv.Scheduler().Start(context.Background(), cfg.ScheduleInterval); err != nil {
			log.Printf("failed to start leaderboard scheduler: %v", err)
		}
	}

	log.Printf("ranking engine listening on :%s", cfg.Port)
	if err := srv.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
