package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/rental-backend/internal/config"
	"github.com/shinyyama/rental-backend/internal/handler"
	appmw "github.com/shinyyama/rental-backend/internal/middleware"
	"github.com/shinyyama/rental-backend/internal/repository"
	"github.com/shinyyama/rental-backend/internal/service"
	"github.com/shinyyama/rental-backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options are the collaborators the server is wired from. DB may be nil and
// injected later with SetDB; Redis may be nil to disable rate limiting.
type Options struct {
	Config    *config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Store     storage.FileStore
	Verifier  appmw.TokenVerifier
	Redis     *redis.Client
	SHA       string
	BuildTime string
}

type Server struct {
	e            *echo.Echo
	msgRepo      repository.MessageRepository
	userRepo     repository.UserRepository
	propertyRepo repository.PropertyRepository
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	store := opts.Store
	if store == nil {
		store = storage.Disabled{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(appmw.RequestID())
	e.Use(appmw.RequestLogger(log))
	e.Use(appmw.Metrics)
	e.Use(middleware.BodyLimit("12M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", appmw.HeaderUserID},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin(cfg.CORSOriginHosts),
	}))

	msgRepo := repository.NewMessageRepository(opts.DB)
	userRepo := repository.NewUserRepository(opts.DB)
	propertyRepo := repository.NewPropertyRepository(opts.DB)

	msgSvc := service.NewMessageService(msgRepo, userRepo, propertyRepo, store, log)
	convSvc := service.NewConversationService(msgRepo, userRepo, propertyRepo, log)
	reactionSvc := service.NewReactionService(msgRepo, log)
	userSvc := service.NewUserService(userRepo)

	convHandler := handler.NewConversationHandler(convSvc, msgSvc, log)
	msgHandler := handler.NewMessageHandler(msgSvc, reactionSvc, log)
	userHandler := handler.NewUserHandler(userSvc, log)

	authMw, err := appmw.NewAuthMiddleware(cfg.AuthMode, opts.Verifier, userSvc, log)
	if err != nil {
		return nil, err
	}

	var sendMw []echo.MiddlewareFunc
	if opts.Redis != nil {
		limiter := appmw.NewRateLimiter(opts.Redis, "send_message", cfg.SendRateLimit, cfg.SendRateWindow, log)
		sendMw = append(sendMw, limiter.Middleware)
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    opts.SHA,
			"build_time": opts.BuildTime,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", authMw.RequireAuth)
	api.GET("/me", userHandler.Me)
	api.GET("/conversations", convHandler.List)
	api.POST("/conversations/start", convHandler.Start)
	api.GET("/conversations/:conversationId/messages", convHandler.ListMessages)
	api.POST("/conversations/:conversationId/mark-read", convHandler.MarkRead)
	api.POST("/messages", msgHandler.Send, sendMw...)
	api.GET("/messages/:id", msgHandler.Get)
	api.DELETE("/messages/:id", msgHandler.Delete)
	api.POST("/messages/:id/reactions", msgHandler.AddReaction)
	api.DELETE("/messages/:id/reactions", msgHandler.RemoveReaction)

	return &Server{e: e, msgRepo: msgRepo, userRepo: userRepo, propertyRepo: propertyRepo}, nil
}

// allowOrigin accepts localhost on any port and any host ending in one of
// the configured suffixes.
func allowOrigin(suffixes []string) func(string) (bool, error) {
	return func(origin string) (bool, error) {
		low := strings.ToLower(origin)
		if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
			strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
			return true, nil
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false, nil
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false, nil
		}
		host := u.Hostname()
		for _, s := range suffixes {
			if s != "" && strings.HasSuffix(host, s) {
				return true, nil
			}
		}
		return false, nil
	}
}

func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// SetDB hands the repositories a connection once it is available. Until then
// they answer with ErrDBNotReady.
func (s *Server) SetDB(db *gorm.DB) {
	s.msgRepo.SetDB(db)
	s.userRepo.SetDB(db)
	s.propertyRepo.SetDB(db)
}
