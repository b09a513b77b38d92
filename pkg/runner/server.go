package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battprof/pkg/bench"
	"github.com/charlie0129/battprof/pkg/charger"
	"github.com/charlie0129/battprof/pkg/lut"
	"github.com/charlie0129/battprof/pkg/profiler"
	"github.com/charlie0129/battprof/pkg/relay"
	"github.com/charlie0129/battprof/pkg/version"
)

// Status is the body of GET /status.
type Status struct {
	RunID       string            `json:"runId"`
	Mode        charger.Mode      `json:"mode"`
	State       charger.State     `json:"state"`
	History     []charger.State   `json:"history"`
	Setpoint    bench.Setpoint    `json:"setpoint"`
	Relays      relay.State       `json:"relays"`
	Measurement bench.Measurement `json:"measurement"`
	Profiler    *profiler.Status  `json:"profiler,omitempty"`
}

// VersionInfo is the body of GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

type server struct {
	srv      *http.Server
	listener net.Listener
}

func setupRoutes(r *run) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.WithField("runId", r.id)))
	router.GET("/status", r.getStatus)
	router.GET("/lut", r.getLUT)
	router.GET("/config", r.getConfig)
	router.GET("/version", getVersion)
	router.GET("/events", r.streamEvents)

	return router
}

// startServer listens on addr and serves the status routes in the
// background.
func startServer(addr string, r *run) (*server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to listen on %s", addr)
	}

	s := &server{
		srv: &http.Server{
			Handler:           setupRoutes(r),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: l,
	}

	go func() {
		logrus.Infof("status server listening on http://%s", l.Addr().String())
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("status server stopped")
		}
	}()

	return s, nil
}

func (s *server) Addr() string {
	return s.listener.Addr().String()
}

func (s *server) Shutdown() {
	logrus.Info("shutting down status server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown status server: %v", err)
	}
}

func (r *run) status() Status {
	setpoint, relays, m := r.bench.Snapshot()
	st := Status{
		RunID:       r.id,
		Mode:        r.engine.Mode(),
		State:       r.engine.State(),
		History:     r.engine.History(),
		Setpoint:    setpoint,
		Relays:      relays,
		Measurement: m,
	}
	if r.profiler != nil {
		ps := r.profiler.Status()
		st.Profiler = &ps
	}
	return st
}

func (r *run) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, r.status())
}

func (r *run) getLUT(c *gin.Context) {
	entries := r.memory.Entries()
	if entries == nil {
		entries = []lut.Entry{}
	}
	c.IndentedJSON(http.StatusOK, entries)
}

func (r *run) getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, r.conf.LogrusFields())
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, VersionInfo{
		Version:   version.Version,
		GitCommit: version.GitCommit,
	})
}

// streamEvents sends hub events as server-sent events until the client
// goes away or the hub is closed.
func (r *run) streamEvents(c *gin.Context) {
	ch := r.hub.Subscribe()
	defer r.hub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("ready", r.id)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

// ginLogger logs requests through logger. Successful requests are only
// logged at debug level.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handler can change c.Path so:
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency,
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
			"client":     c.ClientIP(),
		})

		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
