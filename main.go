package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/api"
	"kanban-api/authn"
	"kanban-api/domain"
	"kanban-api/session"
	"kanban-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	usersTable := os.Getenv("USERS_TABLE")
	boardsTable := os.Getenv("BOARDS_TABLE")
	nodesTable := os.Getenv("NODES_TABLE")
	refsTable := os.Getenv("REFS_TABLE")
	eventsQueue := os.Getenv("EVENTS_QUEUE")
	if connStr == "" || usersTable == "" || boardsTable == "" || nodesTable == "" || refsTable == "" || eventsQueue == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, usersTable, boardsTable, nodesTable, refsTable, eventsQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		// Azure-style "host:port,password=...,ssl=true" connection strings.
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

	sessionTTL := session.DefaultTTL
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid SESSION_TTL: %v", err)
		}
		sessionTTL = d
	}
	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}

	cache := storage.NewCache(store, rc, cacheTTL)
	sessions := session.NewRedisStoreWithClient(rc, sessionTTL)
	identity := authn.NewService(store)
	hierarchy := domain.NewHierarchy(cache)
	guard := domain.NewGuard(cache)

	logger := log.New()
	publisher := api.NewPublisher(store, logger)
	defer publisher.Shutdown()

	var bearer *api.BearerAuth
	if os.Getenv("BEARER_TEST_MODE") == "1" {
		bearer = api.NewBearerAuth(nil, "", "")
	} else if jwtDomain := os.Getenv("JWT_DOMAIN"); jwtDomain != "" {
		audience := os.Getenv("JWT_AUDIENCE")
		if audience == "" {
			log.Fatal("JWT_AUDIENCE must be set when JWT_DOMAIN is set")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", jwtDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		bearer = api.NewBearerAuth(jwks, audience, "https://"+jwtDomain+"/")
	}

	maskForbidden := true
	if v, err := strconv.ParseBool(os.Getenv("MASK_FORBIDDEN")); err == nil {
		maskForbidden = v
	}
	secureCookies := os.Getenv("INSECURE_COOKIES") != "1"

	allowOrigins := []string{"*"}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		allowOrigins = strings.Split(v, ",")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("kanban_api"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Config{
		Boards:        hierarchy,
		Guard:         guard,
		Sessions:      sessions,
		Identity:      identity,
		Publisher:     publisher,
		Bearer:        bearer,
		Logger:        logger,
		SessionTTL:    sessionTTL,
		SecureCookies: secureCookies,
		MaskForbidden: maskForbidden,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
