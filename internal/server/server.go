// Package server exposes one session manager over a small JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/yolodolo42/walletsig/internal/display"
	"github.com/yolodolo42/walletsig/internal/session"
	"github.com/yolodolo42/walletsig/internal/signature"
)

const (
	connectTimeout = 60 * time.Second
	shutdownGrace  = 5 * time.Second
)

// Server routes HTTP requests to a session manager. Notices emitted by the
// manager should be fed to the same NoticeBuffer so GET /notices can show
// them.
type Server struct {
	session *session.Manager
	notices *session.NoticeBuffer
	log     log.Logger
	engine  *gin.Engine
}

func New(m *session.Manager, notices *session.NoticeBuffer) *Server {
	s := &Server{
		session: m,
		notices: notices,
		log:     log.New("module", "server"),
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.logRequests)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/session", s.getSession)
	s.engine.POST("/connect", s.connect)
	s.engine.POST("/disconnect", s.disconnect)
	s.engine.POST("/sign", s.sign)
	s.engine.POST("/verify", s.verify)
	s.engine.GET("/notices", s.getNotices)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("Serving session API", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("HTTP request", "method", c.Request.Method, "path", c.FullPath(),
		"status", c.Writer.Status(), "elapsed", time.Since(start))
}

type sessionResponse struct {
	session.Snapshot
	Signature          string          `json:"signature"`
	SignatureTruncated string          `json:"signature_truncated"`
	Recovered          *common.Address `json:"recovered,omitempty"`
}

func (s *Server) sessionView() sessionResponse {
	rec := s.session.Record()
	return sessionResponse{
		Snapshot:           s.session.Snapshot(),
		Signature:          rec.Signature,
		SignatureTruncated: display.Truncate(rec.Signature),
		Recovered:          rec.Recovered,
	}
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionView())
}

func (s *Server) connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), connectTimeout)
	defer cancel()

	if err := s.session.Connect(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionView())
}

func (s *Server) disconnect(c *gin.Context) {
	s.session.Disconnect()
	c.JSON(http.StatusOK, s.sessionView())
}

type signRequest struct {
	Message string `json:"message"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Truncated string `json:"truncated"`
}

func (s *Server) sign(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}

	sig, err := s.session.Sign(c.Request.Context(), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, signResponse{Signature: sig, Truncated: display.Truncate(sig)})
}

type verifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Address common.Address `json:"address"`
}

func (s *Server) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "bad_request"})
		return
	}

	addr, err := s.session.Verify(req.Message, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Address: addr})
}

func (s *Server) getNotices(c *gin.Context) {
	if s.notices == nil {
		c.JSON(http.StatusOK, []session.Notice{})
		return
	}
	c.JSON(http.StatusOK, s.notices.Recent())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorStatus maps session and signature errors to an HTTP status and a
// stable machine-readable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, session.ErrNoAccounts):
		return http.StatusConflict, "no_accounts"
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict, "not_connected"
	case errors.Is(err, session.ErrAlreadyConnected):
		return http.StatusConflict, "already_connected"
	case errors.Is(err, session.ErrSessionReset):
		return http.StatusConflict, "session_reset"
	case errors.Is(err, signature.ErrMissingMessage):
		return http.StatusBadRequest, "missing_message"
	case errors.Is(err, signature.ErrMissingSignature):
		return http.StatusBadRequest, "missing_signature"
	case errors.Is(err, signature.ErrMalformedSignature):
		return http.StatusUnprocessableEntity, "malformed_signature"
	case errors.Is(err, session.ErrNetworkQueryFailed):
		return http.StatusBadGateway, "network_query_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Code: code})
}
