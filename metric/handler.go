package metric

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/dataforge-io/serieshub/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Prometheus metrics endpoint
type Server interface {
	Start() error
	Shutdown(useContext context.Context) error
}

// serverImpl implements Server
type serverImpl struct {
	common.Component
	httpServer *http.Server
}

// NewServer define a metrics HTTP server serving the given registry
func NewServer(
	listenOn string, port uint16, path string, registry *prometheus.Registry,
) (Server, error) {
	logTags := log.Fields{
		"module": "metric", "component": "server", "port": port,
	}
	router := mux.NewRouter()
	router.Path(path).Methods("GET").Handler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", listenOn, port),
		Handler:      router,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
	return &serverImpl{
		Component:  common.Component{LogTags: logTags},
		httpServer: httpServer,
	}, nil
}

// Start begin serving the metrics endpoint. Blocks until shutdown.
func (s *serverImpl) Start() error {
	log.WithFields(s.LogTags).Infof("Serving metrics on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).WithFields(s.LogTags).Error("Metrics server failed")
		return err
	}
	return nil
}

// Shutdown stop the metrics endpoint
func (s *serverImpl) Shutdown(useContext context.Context) error {
	log.WithFields(s.LogTags).Info("Stopping metrics server")
	return s.httpServer.Shutdown(useContext)
}
