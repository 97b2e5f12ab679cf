package main

import (
	"context"
	"crypto/tls"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktogether-api/api"
	"tasktogether-api/broadcast"
	"tasktogether-api/engine"
	"tasktogether-api/store"
	"tasktogether-api/taskdb"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	dbPath := os.Getenv("TASKS_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join("storage", "database.sqlite")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("task db dir: %v", err)
		}
	}
	tdb, err := taskdb.New(dbPath)
	if err != nil {
		log.Fatalf("task db: %v", err)
	}

	logger := log.New()
	docs := store.NewRedis(rc, logger)
	bc := broadcast.New(rc, logger)
	eng := engine.New(docs, bc, logger)

	ctx := context.Background()
	if err := eng.EnsureSeed(ctx); err != nil {
		log.Fatalf("seed: %v", err)
	}

	ttl := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		ttl = d
	}
	deduper := api.NewRedisDeduper(rc, ttl)

	var auth api.Authenticator
	switch {
	case strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")) == "hs256":
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		auth = api.NewHS256Auth([]byte(secret))
	case os.Getenv("AUTH_JWKS_URL") != "":
		jwks, err := keyfunc.Get(os.Getenv("AUTH_JWKS_URL"), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewJWKSAuth(jwks, os.Getenv("AUTH_AUDIENCE"), os.Getenv("AUTH_ISSUER"))
	}

	refreshInterval := time.Hour
	if v := os.Getenv("NOTIFY_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid NOTIFY_REFRESH_INTERVAL: %v", err)
		}
		refreshInterval = d
	}
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for range ticker.C {
			n, err := eng.RefreshDeadlineNotifications(ctx, engine.DefaultDaysAhead)
			if err != nil {
				logger.WithError(err).Error("refresh deadline notifications")
				continue
			}
			if n > 0 {
				logger.WithField("count", n).Info("deadline reminders created")
			}
		}
	}()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, tdb, eng, bc, auth, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
