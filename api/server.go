package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Server serves HTTP requests for the tranche pricer.
type Server struct {
	apiKeyHash []byte
	router     *gin.Engine
}

// NewServer creates a new HTTP server and sets up routing. An empty
// apiKeyHash leaves the pricing routes open.
func NewServer(apiKeyHash string) *Server {
	server := &Server{apiKeyHash: []byte(apiKeyHash)}

	server.setupRouter()
	return server
}

func (server *Server) setupRouter() {
	router := gin.New()
	router.Use(gin.Recovery(), logRequests)

	router.GET("/v1/health", server.health)
	authRoutes := router.Group("/v1").Use(server.authentication)
	authRoutes.POST("/tranche", server.tranche)
	authRoutes.POST("/ladder", server.ladder)
	server.router = router
}

// Start runs the HTTP server on a specific address.
func (server *Server) Start(address string) error {
	log.Info().Str("addr", address).Msg("serving")
	return server.router.Run(address)
}

func (server *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func errorResponse(err error) gin.H {
	return gin.H{"error": err.Error()}
}
