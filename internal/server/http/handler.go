package http

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bughouse/internal/server/core"
	"bughouse/internal/server/service"
	"bughouse/internal/server/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const rateLimitRate = 10 // req/sec

var gameIDRegex = regexp.MustCompile(`^[0-9a-z]{12}$`)

// HTTPHandler handles HTTP requests and routes them to the service
type HTTPHandler struct {
	svc *service.Service
}

func NewHTTPHandler(svc *service.Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

func NewFiberApp(svc *service.Service, devMode bool) *fiber.App {
	// Create handler
	h := NewHTTPHandler(svc)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	})

	// Global middleware (order matters)
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check (no rate limit)
	app.Get("/health", h.Health)

	// API v1 routes
	api := app.Group("/api/v1")

	// Auth routes with specific rate limiting
	auth := api.Group("/auth")

	// Register: 5 req/min per IP
	auth.Post("/register", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error:   "rate limit exceeded",
				Code:    core.ErrCodeRateLimit,
				Details: "5 registrations per minute allowed",
			})
		},
	}), h.RegisterHandler)

	// Login: 10 req/min per IP
	auth.Post("/login", limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error:   "rate limit exceeded",
				Code:    core.ErrCodeRateLimit,
				Details: "10 login attempts per minute allowed",
			})
		},
	}), h.LoginHandler)

	// Create token validator closure
	validateToken := svc.ValidateToken

	// Current user (requires auth)
	auth.Get("/me", AuthRequired(validateToken), h.GetCurrentUserHandler)

	// Game routes with standard rate limiting
	maxReq := rateLimitRate
	if devMode {
		maxReq = rateLimitRate * 2
	}
	api.Use(limiter.New(limiter.Config{
		Max:        maxReq,
		Expiration: 1 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			if xff := c.Get("X-Forwarded-For"); xff != "" {
				if idx := strings.Index(xff, ","); idx != -1 {
					return strings.TrimSpace(xff[:idx])
				}
				return xff
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error:   "rate limit exceeded",
				Code:    core.ErrCodeRateLimit,
				Details: fmt.Sprintf("%d requests per second allowed", maxReq),
			})
		},
	}))

	// Content-Type validation for POST and PUT requests
	api.Use(contentTypeValidator)

	// Middleware validation for sanitization
	api.Use(validationMiddleware)

	// Lobby and game lifecycle
	api.Post("/games", AuthRequired(validateToken), h.CreateGame)
	api.Get("/games", h.ListOpenGames)
	api.Get("/games/:gameId", h.GetGame)
	api.Post("/games/:gameId/seats", AuthRequired(validateToken), h.JoinSeat)
	api.Delete("/games/:gameId/seats", AuthRequired(validateToken), h.LeaveSeat)
	api.Post("/games/:gameId/termination", AuthRequired(validateToken), h.ReportTermination)

	// Ratings
	api.Get("/users/:userId/ratings", h.GetRatingHistory)
	api.Get("/leaderboard", h.GetLeaderboard)

	return app
}

// contentTypeValidator ensures POST and PUT requests have application/json
func contentTypeValidator(c *fiber.Ctx) error {
	method := c.Method()
	if method == fiber.MethodPost || method == fiber.MethodPut {
		contentType := c.Get("Content-Type")
		if contentType != "application/json" && contentType != "" {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(core.ErrorResponse{
				Error:   "unsupported media type",
				Code:    core.ErrCodeInvalidContent,
				Details: "Content-Type must be application/json",
			})
		}
	}
	return c.Next()
}

// customErrorHandler provides consistent error responses
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	response := core.ErrorResponse{
		Error: "internal server error",
		Code:  core.ErrCodeInternalError,
	}

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		response.Error = e.Message

		// Map HTTP status to error codes
		switch code {
		case fiber.StatusNotFound:
			response.Code = core.ErrCodeGameNotFound
		case fiber.StatusBadRequest:
			response.Code = core.ErrCodeInvalidRequest
		case fiber.StatusTooManyRequests:
			response.Code = core.ErrCodeRateLimit
		}
	}

	return c.Status(code).JSON(response)
}

// Health check endpoint with storage status
func (h *HTTPHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"storage": h.svc.GetStorageHealth(),
	})
}

// CreateGame opens a new game with the authenticated user seated
func (h *HTTPHandler) CreateGame(c *fiber.Ctx) error {
	req, err := validatedRequest[core.CreateGameRequest](c)
	if req == nil {
		return err
	}

	userID, ok := c.Locals("userID").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(core.ErrorResponse{
			Error: "unauthorized",
			Code:  core.ErrCodeUnauthorized,
		})
	}

	mode := core.ParseMode(req.Mode)

	var seats [core.NumSeats]string
	seats[req.Seat] = userID

	gameID, err := h.svc.CreateGame(seats, req.Minutes, req.Increment, req.RatingLow, req.RatingHigh, mode, req.JoinRandom)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
				Error: "user not found",
				Code:  core.ErrCodeUserNotFound,
			})
		}
		if errors.Is(err, core.ErrCreationExhausted) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(core.ErrorResponse{
				Error: "could not allocate a game id",
				Code:  core.ErrCodeInternalError,
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error:   "failed to create game",
			Code:    core.ErrCodeInvalidRequest,
			Details: err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(core.CreateGameResponse{GameID: gameID})
}

// ListOpenGames returns the lobby of joinable games
func (h *HTTPHandler) ListOpenGames(c *fiber.Ctx) error {
	games, err := h.svc.ListOpenGames()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to list games",
			Code:  core.ErrCodeInternalError,
		})
	}
	if games == nil {
		games = []storage.OpenGameRecord{}
	}
	return c.JSON(games)
}

// GetGame retrieves current game state
func (h *HTTPHandler) GetGame(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	if !isValidGameID(gameID) {
		return invalidGameID(c)
	}

	g, err := h.svc.GetGame(gameID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
				Error: "game not found",
				Code:  core.ErrCodeGameNotFound,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to load game",
			Code:  core.ErrCodeInternalError,
		})
	}

	return c.JSON(gameResponse(g))
}

// JoinSeat claims a seat in an open game. Normal rejections (seat taken,
// rating out of range, game no longer open) are 200 with seated=false so
// lobby clients can tell them apart from hard failures.
func (h *HTTPHandler) JoinSeat(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	if !isValidGameID(gameID) {
		return invalidGameID(c)
	}

	req, err := validatedRequest[core.JoinSeatRequest](c)
	if req == nil {
		return err
	}

	userID, _ := c.Locals("userID").(string)

	seated, reason, err := h.svc.JoinSeat(gameID, req.Seat, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
				Error: "game or user not found",
				Code:  core.ErrCodeGameNotFound,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to join game",
			Code:  core.ErrCodeInternalError,
		})
	}

	resp := core.JoinSeatResponse{Seated: seated, Reason: reason}
	if seated {
		if g, err := h.svc.GetGame(gameID); err == nil {
			resp.Status = g.Status
		}
	}
	return c.JSON(resp)
}

// LeaveSeat vacates the authenticated user's seat in an open game
func (h *HTTPHandler) LeaveSeat(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	if !isValidGameID(gameID) {
		return invalidGameID(c)
	}

	userID, _ := c.Locals("userID").(string)

	if err := h.svc.LeaveSeat(gameID, userID); err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
				Error: "game not found",
				Code:  core.ErrCodeGameNotFound,
			})
		case errors.Is(err, core.ErrNotInGame):
			return c.Status(fiber.StatusConflict).JSON(core.ErrorResponse{
				Error: "not seated in this game",
				Code:  core.ErrCodeNotInGame,
			})
		case errors.Is(err, core.ErrGameNotOpen):
			return c.Status(fiber.StatusConflict).JSON(core.ErrorResponse{
				Error: "game already started",
				Code:  core.ErrCodeGameNotOpen,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to leave game",
			Code:  core.ErrCodeInternalError,
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ReportTermination ends an active game. Only seated players may report.
func (h *HTTPHandler) ReportTermination(c *fiber.Ctx) error {
	gameID := c.Params("gameId")
	if !isValidGameID(gameID) {
		return invalidGameID(c)
	}

	req, err := validatedRequest[core.TerminationRequest](c)
	if req == nil {
		return err
	}

	userID, _ := c.Locals("userID").(string)

	g, err := h.svc.GetGame(gameID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(core.ErrorResponse{
				Error: "game not found",
				Code:  core.ErrCodeGameNotFound,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to load game",
			Code:  core.ErrCodeInternalError,
		})
	}
	if g.SeatOf(userID) == -1 {
		return c.Status(fiber.StatusForbidden).JSON(core.ErrorResponse{
			Error: "not seated in this game",
			Code:  core.ErrCodeNotInGame,
		})
	}

	if err := h.svc.EndGame(gameID, req.Termination); err != nil {
		if errors.Is(err, core.ErrGameNotOpen) {
			return c.Status(fiber.StatusConflict).JSON(core.ErrorResponse{
				Error: "game is not active",
				Code:  core.ErrCodeGameNotOpen,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to end game",
			Code:  core.ErrCodeInternalError,
		})
	}

	g, err = h.svc.GetGame(gameID)
	if err != nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(gameResponse(g))
}

// GetRatingHistory returns a user's rating entries, oldest first
func (h *HTTPHandler) GetRatingHistory(c *fiber.Ctx) error {
	userID := c.Params("userId")

	entries, err := h.svc.GetRatingHistory(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to load rating history",
			Code:  core.ErrCodeInternalError,
		})
	}

	// Ratings are stored and computed as floats; rounding happens only here
	out := make([]core.RatingHistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, core.RatingHistoryEntry{
			Class:     e.Class,
			Timestamp: e.Timestamp,
			Rating:    math.Round(e.Rating),
		})
	}
	return c.JSON(out)
}

// GetLeaderboard returns the top players per time class
func (h *HTTPHandler) GetLeaderboard(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}

	lb, err := h.svc.GetLeaderboard(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "failed to load leaderboard",
			Code:  core.ErrCodeInternalError,
		})
	}
	return c.JSON(lb)
}

func gameResponse(g *storage.GameRecord) core.GameResponse {
	resp := core.GameResponse{
		GameID:     g.GameID,
		Minutes:    g.Minutes,
		Increment:  g.Increment,
		RatingLow:  g.RatingLow,
		RatingHigh: g.RatingHigh,
		Mode:       g.Mode,
		Status:     g.Status,
		JoinRandom: g.JoinRandom,
		CreatedAt:  g.CreatedAt,
	}
	if g.Termination != nil {
		resp.Termination = *g.Termination
	}
	for i, seat := range g.Seats {
		if seat != nil {
			resp.Seats[i] = &core.SeatResponse{UserID: seat.UserID, Rating: seat.Rating}
		}
	}
	return resp
}

func isValidGameID(s string) bool {
	return gameIDRegex.MatchString(s)
}

func invalidGameID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
		Error:   "invalid game ID format",
		Code:    core.ErrCodeInvalidRequest,
		Details: "game ID must be 12 lowercase base36 characters",
	})
}
