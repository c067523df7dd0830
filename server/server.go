// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/common/util"
	"github.com/gorse-io/svdrec/config"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/gorse-io/svdrec/trainer"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	apiDocsPath = "/apidocs/"
	apiSpecPath = "/apidocs.json"
)

// Server manages states of a server node.
type Server struct {
	*RestServer
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer connects to the data store and creates a server node.
func NewServer(cfg *config.Config) (*Server, error) {
	// setup trace provider
	tp, err := cfg.Tracing.NewTracerProvider()
	if err != nil {
		return nil, errors.Trace(err)
	}
	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(log.GetErrorHandler())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	// connect data store
	var database data.Database = data.NoDatabase{}
	if cfg.Database.DataStore != "" {
		database, err = data.Open(cfg.Database.DataStore, cfg.Database.DataTablePrefix)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to connect data store %s", log.RedactDBURL(cfg.Database.DataStore))
		}
		if err = database.Init(); err != nil {
			return nil, errors.Annotatef(err, "failed to init data store %s", log.RedactDBURL(cfg.Database.DataStore))
		}
		database = data.Instrument(database)
	} else {
		log.Logger().Warn("no data store is configured")
	}

	s := &Server{RestServer: NewRestServer(database, trainer.NewTrainer(database, cfg), cfg)}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.HttpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler creates the HTTP handler with REST APIs, API docs and metrics.
func (s *RestServer) Handler() http.Handler {
	s.CreateWebService()
	container := restful.NewContainer()
	container.Add(s.WebService)
	// register swagger UI
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     apiSpecPath,
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle(apiDocsPath, v5emb.New("svdrec", apiSpecPath, apiDocsPath))
	// register prometheus
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// Serve starts the REST server and trains the first model in background. It
// blocks until the server is shut down.
func (s *Server) Serve() error {
	if s.ctx.Err() != nil {
		return nil
	}
	go func() {
		defer util.CheckPanic()
		// queries are answered with 503 until the first model is trained
		if err := s.Trainer.RetrainWithRetry(s.ctx); err != nil {
			log.Logger().Warn("failed to train initial model", zap.Error(err))
		}
		s.Trainer.Run(s.ctx)
	}()
	go s.expireCache(s.ctx)

	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s", s.HttpServer.Addr)),
		zap.String("policy", s.Config.Training.Policy))
	if err := s.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}

// expireCache removes expired scores until ctx is done.
func (s *Server) expireCache(ctx context.Context) {
	defer util.CheckPanic()
	if s.Config.Server.CacheTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.Config.Server.CacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cache.DeleteExpired()
		}
	}
}

// Shutdown stops the server and closes the data store. A server shut down
// before Serve never starts listening.
func (s *Server) Shutdown(ctx context.Context) {
	s.cancel()
	if err := s.HttpServer.Shutdown(ctx); err != nil {
		log.Logger().Error("failed to shutdown http server", zap.Error(err))
	}
	if err := s.DataClient.Close(); err != nil && !errors.Is(err, data.ErrNoDatabase) {
		log.Logger().Error("failed to close data store", zap.Error(err))
	}
}
