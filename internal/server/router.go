package server

import (
	"net/http"

	model "auction-marketplace/internal/models"
	"auction-marketplace/internal/ratelimit"
	handler "auction-marketplace/services/bidding/handler"
	"auction-marketplace/services/bidding/helpers"
	"auction-marketplace/utils"

	"github.com/gin-gonic/gin"
)

// IdentityProvider registers users, logs them in and verifies their tokens
type IdentityProvider interface {
	handler.IdentityService
	Authenticator
}

// LiveHub is the event broadcaster as seen by the HTTP layer
type LiveHub interface {
	handler.Publisher
	HandleWS(w http.ResponseWriter, r *http.Request, principal model.Principal)
	ClientCount() int
}

// Dependencies groups everything the router wires into handlers
type Dependencies struct {
	Bidding     handler.BiddingServiceInterface
	Auctions    handler.AuctionServiceInterface
	Identity    IdentityProvider
	Hub         LiveHub
	Limiter     ratelimit.Limiter
	CORSOrigins []string
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(CORSMiddleware(deps.CORSOrigins))

	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}

	biddingHandler := handler.NewBiddingHandler(deps.Bidding, deps.Hub)
	auctionHandler := handler.NewAuctionHandler(deps.Auctions, deps.Hub)
	authHandler := handler.NewAuthHandler(deps.Identity)

	authenticated := AuthMiddleware(deps.Identity)
	adminOnly := RequireRole(model.RoleAdmin)

	api := router.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		utils.JSONResponse(c, http.StatusOK, gin.H{"live_clients": deps.Hub.ClientCount()}, "ok")
	})

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.RegisterHandler)
		auth.POST("/login", authHandler.LoginHandler)
	}

	auctions := api.Group("/auctions")
	{
		auctions.GET("", auctionHandler.ListAuctionsHandler)
		auctions.GET("/:auction_id", auctionHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/winning", biddingHandler.GetWinningBidHandler)

		auctions.POST("", authenticated, adminOnly, auctionHandler.CreateAuctionHandler)
		auctions.POST("/:auction_id/start", authenticated, adminOnly, auctionHandler.StartAuctionHandler)
		auctions.POST("/:auction_id/close", authenticated, adminOnly, auctionHandler.CloseAuctionHandler)
		auctions.POST("/:auction_id/bid", authenticated, RateLimitMiddleware(limiter), biddingHandler.PlaceBidHandler)
	}

	users := api.Group("/users", authenticated)
	{
		users.GET("/:user_id/auctions", biddingHandler.GetAuctionsByUserHandler)
	}

	router.GET("/ws", authenticated, func(c *gin.Context) {
		principal, _ := helpers.PrincipalFrom(c)
		deps.Hub.HandleWS(c.Writer, c.Request, principal)
	})

	return router
}
