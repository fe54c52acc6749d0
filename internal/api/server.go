// Package api exposes the marketplace operations over HTTP. The caller
// identity comes from the X-Caller header; real deployments front this with
// an authenticating proxy.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/maksimarefev/nft-marketplace/internal/domain"
	"github.com/maksimarefev/nft-marketplace/internal/infra"
	"github.com/maksimarefev/nft-marketplace/internal/market"
	"github.com/maksimarefev/nft-marketplace/internal/stream"
)

type Server struct {
	market *market.Marketplace
	hub    *stream.Hub
}

// NewServer builds the HTTP server for the configured listen address.
func NewServer(cfg *infra.Config, m *market.Marketplace, hub *stream.Hub) *http.Server {
	s := &Server{market: m, hub: hub}

	return &http.Server{
		Addr:         cfg.API.Listen,
		Handler:      s.registerRoutes(cfg),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *Server) registerRoutes(cfg *infra.Config) http.Handler {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	if cfg.API.CORSOrigin != "" {
		corsCfg.AllowOrigins = []string{cfg.API.CORSOrigin}
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-Caller")
	r.Use(cors.New(corsCfg))

	r.POST("/items", s.createItem)
	r.GET("/listings", s.listings)
	r.GET("/listings/:id", s.listing)
	r.POST("/listings", s.listItem)
	r.DELETE("/listings/:id", s.cancel)
	r.POST("/listings/:id/purchase", s.buyItem)
	r.POST("/auctions", s.listItemOnAuction)
	r.POST("/auctions/:id/bids", s.makeBid)
	r.POST("/auctions/:id/finish", s.finishAuction)
	r.PUT("/settings/auction-timeout", s.setAuctionTimeout)
	r.PUT("/settings/min-bids", s.setMinBidsNumber)

	if s.hub != nil {
		r.GET("/events", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}

	return r
}

func caller(c *gin.Context) domain.Address {
	return domain.Address(c.GetHeader("X-Caller"))
}

func tokenID(c *gin.Context) (domain.TokenID, error) {
	var id uint64
	if _, err := fmt.Sscanf(c.Param("id"), "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid token id %q", c.Param("id"))
	}
	return domain.TokenID(id), nil
}

// statusFor maps the error taxonomy onto HTTP statuses. Collaborator
// failures with no kind surface as 502.
func statusFor(err error) int {
	switch market.KindOf(err) {
	case market.KindValidation:
		return http.StatusBadRequest
	case market.KindAuthorization:
		return http.StatusForbidden
	case market.KindState:
		if errors.Is(err, market.ErrNotListed) || errors.Is(err, market.ErrNoAuction) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case market.KindEconomic:
		if errors.Is(err, market.ErrInsufficientBalance) || errors.Is(err, market.ErrPaymentFailed) {
			return http.StatusPaymentRequired
		}
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) createItem(c *gin.Context) {
	var req struct {
		MetadataRef string `json:"metadata_ref" binding:"required"`
		Owner       string `json:"owner" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.market.CreateItem(c.Request.Context(), caller(c), req.MetadataRef, domain.Address(req.Owner))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token_id": id})
}

func (s *Server) listings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"listings": s.market.Listings()})
}

func (s *Server) listing(c *gin.Context) {
	id, err := tokenID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, ok := s.market.Listing(id)
	if !ok {
		fail(c, market.ErrNotListed)
		return
	}

	resp := gin.H{"listing": listing}
	if auction, ok := s.market.Auction(id); ok {
		resp["auction"] = auction
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listItem(c *gin.Context) {
	var req struct {
		TokenID uint64 `json:"token_id" binding:"required"`
		Price   string `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid price: %v", err)})
		return
	}

	if err := s.market.ListItem(c.Request.Context(), caller(c), domain.TokenID(req.TokenID), price); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) cancel(c *gin.Context) {
	id, err := tokenID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.market.Cancel(c.Request.Context(), caller(c), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) buyItem(c *gin.Context) {
	id, err := tokenID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.market.BuyItem(c.Request.Context(), caller(c), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) listItemOnAuction(c *gin.Context) {
	var req struct {
		TokenID  uint64 `json:"token_id" binding:"required"`
		MinPrice string `json:"min_price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	minPrice, err := decimal.NewFromString(req.MinPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid min price: %v", err)})
		return
	}

	if err := s.market.ListItemOnAuction(c.Request.Context(), caller(c), domain.TokenID(req.TokenID), minPrice); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) makeBid(c *gin.Context) {
	id, err := tokenID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		Price string `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid price: %v", err)})
		return
	}

	if err := s.market.MakeBid(c.Request.Context(), caller(c), id, price); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) finishAuction(c *gin.Context) {
	id, err := tokenID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.market.FinishAuction(c.Request.Context(), caller(c), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) setAuctionTimeout(c *gin.Context) {
	var req struct {
		Timeout string `json:"timeout" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	timeout, err := time.ParseDuration(req.Timeout)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid timeout: %v", err)})
		return
	}

	if err := s.market.SetAuctionTimeout(c.Request.Context(), caller(c), timeout); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) setMinBidsNumber(c *gin.Context) {
	var req struct {
		Count uint64 `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.market.SetMinBidsNumber(c.Request.Context(), caller(c), req.Count); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}
