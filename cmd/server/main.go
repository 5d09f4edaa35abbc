package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/pos-payments/internal/adapter"
	"github.com/yourorg/pos-payments/internal/adapter/mock"
	"github.com/yourorg/pos-payments/internal/adapter/stripe"
	"github.com/yourorg/pos-payments/internal/config"
	"github.com/yourorg/pos-payments/internal/coordinator"
	"github.com/yourorg/pos-payments/internal/monitor"
	"github.com/yourorg/pos-payments/internal/payment"
	"github.com/yourorg/pos-payments/internal/store"
)

type server struct {
	coordinator *coordinator.Coordinator
	monitor     *monitor.ContractMonitor
}

type createPaymentRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
}

func (s *server) createPayment(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
		return
	}

	valid, violations, err := s.monitor.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	rec, err := s.coordinator.Create(c.Request.Context(), req.Amount, req.Currency, req.Description, idempotencyKey)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *server) getPayment(c *gin.Context) {
	rec, err := s.coordinator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) confirmPayment(c *gin.Context) {
	shouldSucceed := true
	if v := c.Query("shouldSucceed"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "shouldSucceed must be a boolean"})
			return
		}
		shouldSucceed = parsed
	}

	rec, err := s.coordinator.Confirm(c.Request.Context(), c.Param("id"), shouldSucceed)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) cancelPayment(c *gin.Context) {
	rec, err := s.coordinator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) listPending(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.List(payment.StatusPending))
}

// renderError is the only place the coordinator's error taxonomy becomes
// transport status codes.
func renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coordinator.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, coordinator.ErrProcessorUnavailable):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func setupRouter(s *server) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("pos-payments"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/payments", s.createPayment)
	router.GET("/payments/pending", s.listPending)
	router.GET("/payments/:id", s.getPayment)
	router.POST("/payments/:id/confirm", s.confirmPayment)
	router.POST("/payments/:id/cancel", s.cancelPayment)
	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("configuration error")
	}

	if cfg.TracingEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to initialize trace exporter")
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				zlog.Error().Err(err).Msg("trace provider shutdown")
			}
		}()
	}

	var processor adapter.ProcessorClient
	if cfg.UseMockProcessor {
		zlog.Warn().Msg("using mock processor; no real charges will be made")
		processor = mock.NewProcessor()
	} else {
		client, err := stripe.NewClient(&http.Client{Timeout: cfg.ProcessorTimeout}, cfg.ProcessorBaseURL, cfg.ProcessorAPIKey)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to initialize processor client")
		}
		processor = client
	}

	cm, err := monitor.NewContractMonitor()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to compile request schema")
	}

	srv := &server{
		coordinator: coordinator.New(store.New(), processor),
		monitor:     cm,
	}
	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: setupRouter(srv)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Str("port", cfg.Port).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		zlog.Fatal().Err(err).Msg("server error")
	}
}
