package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cipherstudio/cipherstudio/pkg/config"
	"github.com/cipherstudio/cipherstudio/pkg/event"
	"github.com/cipherstudio/cipherstudio/pkg/handler"
	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/service"
)

// portEnv overrides server.port from the config file.
const portEnv = "CIPHERSTUDIO_PORT"

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	projects  *service.ProjectService
	emitter   *event.Emitter
	logger    *slog.Logger
	port      int
	done      chan struct{}
}

func NewServer(cfg *config.AppConfig, projects *service.ProjectService, emitter *event.Emitter, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(corsMiddleware())

	attachStatic(ginEngine, cfg.StaticDir(), logger)

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		projects:  projects,
		emitter:   emitter,
		logger:    logger,
		done:      make(chan struct{}),
	}
	server.SetupRoutes()
	return server
}

// corsMiddleware allows browser requests from localhost dev servers only.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			if !localOrigin(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, If-None-Match")
			c.Header("Access-Control-Expose-Headers", "ETag")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func localOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if origin == prefix || strings.HasPrefix(origin, prefix+":") {
			return true
		}
	}
	return false
}

// listenPort returns the configured port, overridden by CIPHERSTUDIO_PORT when valid.
func (s *Server) listenPort() int {
	port := s.cfg.Port()
	if v := os.Getenv(portEnv); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			port = p
		} else {
			s.logger.Warn("Invalid port override, using config value", "env", portEnv, "value", v, "port", port)
		}
	}
	return port
}

// Start listens and serves in the background until ctx is cancelled. A bind
// failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host(), strconv.Itoa(s.listenPort()))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine, ReadHeaderTimeout: 10 * time.Second}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return nil
}

// Done is closed once the server has shut down after Start's context ended.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) SetupRoutes() {
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok"})
	})

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info for clients to discover the correct base URLs
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		if host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		port := s.port
		if port == 0 {
			port = s.listenPort()
		}
		hostPort := net.JoinHostPort(host, strconv.Itoa(port))
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: fmt.Sprintf("http://%s", hostPort),
			WSBaseURL:   fmt.Sprintf("ws://%s", hostPort),
			Port:        port,
			Storage:     s.projects.Backend(),
		})
	})

	// Event stream
	// /api/events/ws
	apiGroup.GET("/events/ws", event.NewWSHandler(s.emitter, s.logger).Handle)

	// Projects, files and folders
	// /api/projects
	handler.NewProjectHandler(s.projects, s.logger).RegisterRoutes(apiGroup)
}
