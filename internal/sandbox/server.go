package sandbox

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ratio1/collection_sdk_go/internal/pbapi"
	"github.com/Ratio1/collection_sdk_go/pkg/collection"
	"github.com/Ratio1/collection_sdk_go/pkg/collection/mock"
)

const (
	// DefaultHeartbeat is how often an idle realtime stream is pinged.
	DefaultHeartbeat = 15 * time.Second
	// DefaultClientTTL is how long a realtime client id stays registered
	// without a heartbeat.
	DefaultClientTTL = 5 * time.Minute

	shutdownTimeout = 5 * time.Second
)

// Config tunes the sandbox server.
type Config struct {
	Faults    Faults
	Heartbeat time.Duration
	ClientTTL time.Duration
}

// Server is the sandbox HTTP API.
type Server struct {
	backend *mock.Mock
	cfg     Config
	log     *zap.Logger
	hub     *hub
	engine  *gin.Engine
}

// New builds a server answering from backend.
func New(backend *mock.Mock, cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = DefaultClientTTL
	}
	s := &Server{
		backend: backend,
		cfg:     cfg,
		log:     log,
		hub:     newHub(backend, cfg.ClientTTL, log.Sugar().Named("realtime")),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.log, true))

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/realtime", s.stream)

	faulty := api.Group("", s.cfg.Faults.middleware())
	faulty.POST("/realtime", s.setSubscriptions)

	records := faulty.Group("/collections/:collection/records")
	records.GET("", s.listRecords)
	records.POST("", s.createRecord)
	records.GET("/:id", s.getRecord)
	records.PATCH("/:id", s.updateRecord)
	records.DELETE("/:id", s.deleteRecord)

	router.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "The requested resource wasn't found.")
	})
	return router
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Connected reports the number of open realtime streams.
func (s *Server) Connected() int {
	return s.hub.connected()
}

// Close ends every realtime stream.
func (s *Server) Close() {
	s.hub.closeAll()
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("sandbox listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) health(c *gin.Context) {
	writeJSON(c, http.StatusOK, pbapi.HealthEnvelope{Code: http.StatusOK, Message: "API is healthy."})
}

func (s *Server) listRecords(c *gin.Context) {
	page, ok := intParam(c, "page", 1)
	if !ok {
		return
	}
	perPage, ok := intParam(c, "perPage", mock.DefaultPerPage)
	if !ok {
		return
	}
	res, err := s.backend.List(c.Request.Context(), c.Param("collection"), page, perPage, collection.ListOptions{
		Sort:   c.Query("sort"),
		Filter: c.Query("filter"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	items := make([]json.RawMessage, 0, len(res.Items))
	for _, rec := range res.Items {
		raw, err := json.Marshal(rec)
		if err != nil {
			s.fail(c, err)
			return
		}
		items = append(items, raw)
	}
	writeJSON(c, http.StatusOK, pbapi.ListEnvelope{
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
		Items:      items,
	})
}

func (s *Server) getRecord(c *gin.Context) {
	rec, err := s.backend.Get(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (s *Server) createRecord(c *gin.Context) {
	payload, ok := readPayload(c)
	if !ok {
		return
	}
	rec, err := s.backend.Create(c.Request.Context(), c.Param("collection"), payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (s *Server) updateRecord(c *gin.Context) {
	payload, ok := readPayload(c)
	if !ok {
		return
	}
	rec, err := s.backend.Update(c.Request.Context(), c.Param("collection"), c.Param("id"), payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (s *Server) deleteRecord(c *gin.Context) {
	if err := s.backend.Delete(c.Request.Context(), c.Param("collection"), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setSubscriptions(c *gin.Context) {
	var req pbapi.SubscribeRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.")
		return
	}
	err := s.hub.subscribe(req.ClientID, req.Subscriptions)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, errUnknownClient):
		abortWithError(c, http.StatusNotFound, "Missing or invalid client id.")
	case errors.Is(err, errBadTopic):
		abortWithError(c, http.StatusBadRequest, err.Error())
	default:
		s.fail(c, err)
	}
}

// stream serves one realtime connection: the PB_CONNECT handshake, then
// every event of the client's topics, with a comment line as heartbeat.
func (s *Server) stream(c *gin.Context) {
	client := s.hub.connect()
	defer s.hub.disconnect(client)

	w := c.Writer
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	connect, err := json.Marshal(pbapi.ConnectPayload{ClientID: client.id})
	if err != nil {
		s.log.Error("encode connect payload", zap.Error(err))
		return
	}
	if err := pbapi.WriteEvent(w, pbapi.Event{ID: client.id, Name: pbapi.ConnectEvent, Data: connect}); err != nil {
		return
	}
	w.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-client.ctx.Done():
			return
		case ev := <-client.events:
			if err := pbapi.WriteEvent(w, ev); err != nil {
				return
			}
			w.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			w.Flush()
			s.hub.touch(client)
		}
	}
}

// fail maps backend errors onto the API error envelope.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, collection.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "The requested resource wasn't found.")
	case errors.Is(err, collection.ErrInvalidRequest):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		c.Abort()
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "Something went wrong while processing your request.")
	}
}

func abortWithError(c *gin.Context, status int, message string) {
	writeJSON(c, status, pbapi.NewError(status, message))
	c.Abort()
}

func writeJSON(c *gin.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}

func intParam(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid "+name+" query parameter.")
		return 0, false
	}
	return v, true
}

func readPayload(c *gin.Context) (map[string]any, bool) {
	var payload map[string]any
	if err := json.NewDecoder(c.Request.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, "Failed to load the submitted data due to invalid formatting.")
		return nil, false
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, true
}
