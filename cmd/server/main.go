package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"party-cards/internal/config"
	"party-cards/internal/db"
	"party-cards/internal/discovery"
	"party-cards/internal/server"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	shutdownTimeout = 10 * time.Second
	discoveryTTL    = 5 * time.Minute
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	var conn *gorm.DB
	var opts []server.Option
	if cfg.DatabaseURL != "" {
		var err error
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		if err := db.Migrate(conn); err != nil {
			log.Fatalf("database migration failed: %v", err)
		}
		catalog, err := db.NewCardCatalog(conn)
		if err != nil {
			log.Fatalf("card catalog failed: %v", err)
		}
		opts = append(opts, server.WithCatalog(catalog))
		log.Printf("audit log and card catalog enabled")
	}

	var directory discovery.Registry
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		registry, err := discovery.NewRedis(&discovery.Config{
			RedisClient: redis.NewClient(redisOpts),
			TTL:         discoveryTTL,
		})
		if err != nil {
			log.Printf("session discovery disabled: %v", err)
		} else {
			directory = registry
			log.Printf("session discovery enabled")
		}
	}

	srv := server.New(conn, directory, cfg, opts...)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown failed: %v", err)
		}
	}()

	if err := srv.ListenAndServe(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
	log.Printf("session host stopped")
}
