// Package httpapi exposes the reservation lifecycle over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	shutdownTimeout  = 5 * time.Second
)

// ReservationService is the subset of queue.Service the handlers drive.
type ReservationService interface {
	Register(ctx context.Context, input queue.RegistrationInput) (queue.Reservation, error)
	Confirm(ctx context.Context, reservationID queue.ReservationID) error
	AssignTables(ctx context.Context, reservationID queue.ReservationID, numbers []queue.TableNumber, partySize int) (queue.SeatingResult, error)
	Seat(ctx context.Context, reservationID queue.ReservationID, partySize int) (queue.SeatingResult, error)
	MarkPaid(ctx context.Context, reservationID queue.ReservationID, details queue.PaymentDetails) (queue.Bill, error)
	Cancel(ctx context.Context, reservationID queue.ReservationID, reason string, actorID queue.ActorID) error
	Describe(ctx context.Context, reservationID queue.ReservationID) (queue.ReservationView, error)
	History(ctx context.Context, reservationID queue.ReservationID) ([]queue.StatusEvent, error)
}

// NewSessionValidator builds the TAuth cookie validator, or returns nil when sessions are disabled.
func NewSessionValidator(cfg Config) (*sessionvalidator.Validator, error) {
	if !cfg.SessionsEnabled() {
		return nil, nil
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return validator, nil
}

// NewRouter wires handlers, CORS, request logging and optional session validation.
func NewRouter(cfg Config, service ReservationService, logger *zap.Logger, validator *sessionvalidator.Validator) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	api := router.Group("/api")
	if validator != nil {
		api.Use(validator.GinMiddleware(claimsContextKey))
	}
	api.POST("/reservations", handler.handleRegister)
	api.GET("/reservations/:id", handler.handleDescribe)
	api.GET("/reservations/:id/history", handler.handleHistory)
	api.POST("/reservations/:id/tables", handler.handleAssignTables)
	api.PATCH("/reservations/:id/status", handler.handleStatus)

	return router
}

// Run serves handler on cfg.ListenAddr until ctx is cancelled.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tablequeue listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		startedAt := time.Now()
		ctx.Next()
		logger.Info("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(startedAt)),
		)
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}
