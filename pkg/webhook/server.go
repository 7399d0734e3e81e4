// Package webhook exposes the relay over HTTP.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay"
	"github.com/joripage/order-relay/pkg/relay/model"
	"go.uber.org/zap"
)

// Relay is the part of the orchestrator the HTTP surface needs.
type Relay interface {
	Execute(ctx context.Context, in model.OrderIntent) (relay.Result, error)
	Status() relay.Status
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Token      string `yaml:"token"`
}

const DefaultListenAddr = ":5000"

type Server struct {
	cfg    Config
	relay  Relay
	log    *logging.Logger
	engine *gin.Engine
}

func NewServer(cfg Config, r Relay, log *logging.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{cfg: cfg, relay: r, log: log}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestContext(log))
	engine.POST("/webhook", requireAPIKey(cfg.Token), s.handleWebhook)
	engine.GET("/status", s.handleStatus)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// HTTPServer returns an http.Server bound to the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.engine,
	}
}

func (s *Server) handleWebhook(c *gin.Context) {
	log, ctx := logging.GetLogger(c.Request.Context())

	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Info(ctx, "malformed webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, failure("", "invalid JSON body: "+err.Error()))
		return
	}
	in, err := req.intent()
	if err != nil {
		c.JSON(http.StatusBadRequest, failure("", err.Error()))
		return
	}

	log.Info(ctx, "webhook received",
		zap.String("action", string(in.Action)),
		zap.String("symbol", in.Symbol),
		zap.Int64("quantity", in.Quantity),
		zap.String("order_type", string(in.Type)),
		zap.String("order_id", in.OrderID))

	res, err := s.relay.Execute(ctx, in)
	if err != nil {
		orderID := in.OrderID
		var oe *model.OrderError
		if errors.As(err, &oe) && oe.OrderID != "" {
			orderID = oe.OrderID
		}
		c.JSON(StatusCode(err), failure(orderID, errorMessage(err)))
		return
	}
	c.JSON(http.StatusOK, success(res.OrderID, res.Message))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Status())
}

// StatusCode maps an orchestration error to its HTTP status.
func StatusCode(err error) int {
	switch model.KindOf(err) {
	case model.KindInputValidation:
		return http.StatusBadRequest
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindPositionNotFound:
		return http.StatusNotFound
	case model.KindInstrumentUnknown:
		return http.StatusUnprocessableEntity
	case model.KindGatewayRejected:
		return http.StatusBadGateway
	case model.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorMessage drops the stage prefix for caller-facing messages.
func errorMessage(err error) string {
	var oe *model.OrderError
	if errors.As(err, &oe) {
		return oe.Err.Error()
	}
	return err.Error()
}
