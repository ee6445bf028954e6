package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubefs/mdstore/metrics"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30

	reqIDKey = "X-Reqid"
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), traceHandler{}, ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	if h.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) newHandler() *rpc.Router {
	router := rpc.New()
	router.Handle(http.MethodGet, "/stats", h.Stats)
	router.Handle(http.MethodGet, "/workspace/stats", h.WorkspaceStats, rpc.OptArgsQuery())
	router.Handle(http.MethodGet, "/metrics", h.Metrics)
	router.Handle(http.MethodGet, "/storage/limit", h.StorageLimit)
	router.Handle(http.MethodPost, "/storage/limit", h.SetStorageLimit, rpc.OptArgsBody())

	return router
}

type WorkspaceArgs struct {
	Name string `json:"name"`
}

func (h *HttpServer) Stats(c *rpc.Context) {
	span := trace.SpanFromContextSafe(c.Request.Context())
	st, err := h.Server.Stats(c.Request.Context())
	if err != nil {
		span.Errorf("collect stats failed: %s", errors.Detail(err))
		c.RespondError(err)
		return
	}
	c.RespondJSON(st)
}

func (h *HttpServer) WorkspaceStats(c *rpc.Context) {
	args := new(WorkspaceArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondStatus(http.StatusBadRequest)
		return
	}
	ws, ok := h.Workspace(args.Name)
	if !ok {
		c.RespondStatus(http.StatusNotFound)
		return
	}
	c.RespondJSON(ws.Stats())
}

// LimitArgs updates the storage limiter, absent fields are left unchanged.
type LimitArgs struct {
	ReadConcurrency  *uint32 `json:"read_concurrency"`
	WriteConcurrency *uint32 `json:"write_concurrency"`
	ReadMBPS         *int    `json:"read_mbps"`
	WriteMBPS        *int    `json:"write_mbps"`
}

func (h *HttpServer) StorageLimit(c *rpc.Context) {
	st := h.Storage()
	if st == nil {
		c.RespondStatus(http.StatusNotFound)
		return
	}
	c.RespondJSON(st.Limiter().Status())
}

func (h *HttpServer) SetStorageLimit(c *rpc.Context) {
	span := trace.SpanFromContextSafe(c.Request.Context())
	st := h.Storage()
	if st == nil {
		c.RespondStatus(http.StatusNotFound)
		return
	}
	args := new(LimitArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondStatus(http.StatusBadRequest)
		return
	}

	l := st.Limiter()
	if args.ReadConcurrency != nil {
		l.SetReadConcurrency(*args.ReadConcurrency)
	}
	if args.WriteConcurrency != nil {
		l.SetWriteConcurrency(*args.WriteConcurrency)
	}
	if args.ReadMBPS != nil {
		l.SetReadMBPS(*args.ReadMBPS)
	}
	if args.WriteMBPS != nil {
		l.SetWriteMBPS(*args.WriteMBPS)
	}
	span.Infof("storage limit updated to %+v", *l.GetConfig())
	c.RespondJSON(l.Status())
}

func (h *HttpServer) Metrics(c *rpc.Context) {
	promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

// traceHandler attaches a span to every request, reusing the caller's request id when present.
type traceHandler struct{}

func (traceHandler) Handler(w http.ResponseWriter, req *http.Request, f func(http.ResponseWriter, *http.Request)) {
	var (
		span trace.Span
		ctx  context.Context
	)
	if reqID := req.Header.Get(reqIDKey); reqID != "" {
		span, ctx = trace.StartSpanFromContextWithTraceID(req.Context(), req.URL.Path, reqID)
	} else {
		span, ctx = trace.StartSpanFromContext(req.Context(), req.URL.Path)
	}
	start := time.Now()
	f(w, req.WithContext(ctx))
	span.Debugf("%s %s done, cost: %s", req.Method, req.URL.Path, time.Since(start))
	span.Finish()
}
