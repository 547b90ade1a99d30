package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/styletree/pkg/event"
	"github.com/choraleia/styletree/pkg/handler"
	"github.com/choraleia/styletree/pkg/models"
)

type Server struct {
	app       *App
	ginEngine *gin.Engine
	logger    *slog.Logger
	host      string
	port      int
}

func NewServer(app *App) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost origins only.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			if allowedOrigin(origin) {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		app:       app,
		ginEngine: ginEngine,
		logger:    app.Logger,
		host:      app.Config.Host(),
	}

	server.SetupRoutes()

	return server
}

func allowedOrigin(origin string) bool {
	for _, p := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

// Start listens on the configured address and serves until ctx is cancelled.
// It returns once the listener is bound; serving continues in the background.
func (s *Server) Start(ctx context.Context, port int) (<-chan error, error) {
	addr := net.JoinHostPort(s.host, fmt.Sprint(port))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}

	// Record the actual port (useful with port 0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = port
	}

	errChan := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errChan <- err
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Server listening", "addr", ln.Addr().String())
	return errChan, nil
}

func (s *Server) SetupRoutes() {
	treeHandler := handler.NewTreeHandler(s.app.Tree, s.logger)
	connHandler := handler.NewConnectionHandler(s.app.Store, s.app.Connectors, s.app.Tree, s.logger)
	wsHandler := event.NewWSHandler(s.app.Emitter)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info for clients discovering the base URLs
	apiGroup.GET("/runtime", func(c *gin.Context) {
		httpBase := fmt.Sprintf("http://%s:%d", s.host, s.port)
		wsBase := fmt.Sprintf("ws://%s:%d", s.host, s.port)
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: httpBase,
			WSBaseURL:   wsBase,
			Port:        s.port,
		})
	})

	// Tree navigation and bulk operations
	// /api/tree
	treeGroup := apiGroup.Group("/tree")
	{
		treeGroup.GET("/roots", treeHandler.Roots)
		treeGroup.GET("/resolve", treeHandler.Resolve)
		treeGroup.GET("/nodes/:id", treeHandler.Get)
		treeGroup.POST("/nodes/:id/expand", treeHandler.Expand)
		treeGroup.POST("/nodes/:id/refresh", treeHandler.Refresh)
		treeGroup.POST("/nodes/:id/populate", treeHandler.Populate)
		treeGroup.GET("/nodes/:id/content", treeHandler.Content)
		treeGroup.GET("/selection", treeHandler.Selection)
		treeGroup.PUT("/selection", treeHandler.Select)
		treeGroup.POST("/copy", treeHandler.Copy)
		treeGroup.POST("/move", treeHandler.Move)
		treeGroup.POST("/delete", treeHandler.Delete)
	}

	// Saved connection management
	// /api/connections
	connGroup := apiGroup.Group("/connections")
	{
		connGroup.POST("", connHandler.Create)
		connGroup.GET("", connHandler.List)
		connGroup.GET("/:id", connHandler.Get)
		connGroup.PUT("/:id", connHandler.Update)
		connGroup.DELETE("/:id", connHandler.Delete)
	}

	// Structural change stream
	// /api/events/ws?events=tree.nodesInserted,...
	apiGroup.GET("/events/ws", wsHandler.Handle)
}
