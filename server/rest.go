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
	"fmt"
	"net/http"
	"strconv"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/common/util"
	"github.com/gorse-io/svdrec/config"
	"github.com/gorse-io/svdrec/logics"
	"github.com/gorse-io/svdrec/model/cf"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/gorse-io/svdrec/trainer"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/juju/ratelimit"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey    = "X-API-Key"
	HeaderRequestID = log.HeaderRequestID
)

// RestServer implements a REST-ful API server.
type RestServer struct {
	DataClient data.Database
	Trainer    *trainer.Trainer
	Config     *config.Config
	WebService *restful.WebService
	HttpServer *http.Server

	cache   *ttlcache.Cache[string, []logics.Score]
	limiter *ratelimit.Bucket
}

func NewRestServer(database data.Database, t *trainer.Trainer, cfg *config.Config) *RestServer {
	s := &RestServer{
		DataClient: database,
		Trainer:    t,
		Config:     cfg,
		WebService: new(restful.WebService),
		cache: ttlcache.New[string, []logics.Score](
			ttlcache.WithTTL[string, []logics.Score](cfg.Server.CacheTTL),
			ttlcache.WithCapacity[string, []logics.Score](cfg.Server.CacheSize),
			ttlcache.WithDisableTouchOnHit[string, []logics.Score](),
		),
	}
	if cfg.Server.RequestRate > 0 {
		capacity := max(int64(cfg.Server.RequestRate), 1)
		s.limiter = ratelimit.NewBucketWithRate(cfg.Server.RequestRate, capacity)
	}
	return s
}

// RequestIDFilter propagates the request id of the client, or assigns a new one.
func RequestIDFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter(HeaderRequestID)
	if requestId == "" {
		requestId = uuid.New().String()
	}
	resp.Header().Set(HeaderRequestID, requestId)
	chain.ProcessFilter(req, resp)
}

// LogFilter writes an access log and records latency for every request.
func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	RequestSeconds.WithLabelValues(req.SelectedRoutePath()).Observe(time.Since(start).Seconds())
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *RestServer) RateLimitFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.limiter != nil && s.limiter.TakeAvailable(1) == 0 {
		RateLimitedTotal.Inc()
		writeError(resp, http.StatusTooManyRequests, "Too many requests")
		return
	}
	chain.ProcessFilter(req, resp)
}

func (s *RestServer) AuthFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.Config.Server.APIKey != "" && req.HeaderParameter(HeaderAPIKey) != s.Config.Server.APIKey {
		log.ResponseLogger(resp).Error("unauthorized", zap.String("path", req.Request.URL.Path))
		writeError(resp, http.StatusUnauthorized, "Unauthorized")
		return
	}
	chain.ProcessFilter(req, resp)
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	// Create a server
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(RequestIDFilter)
	ws.Filter(otelrestful.OTelFilter("svdrec"))
	ws.Filter(LogFilter)
	ws.Filter(s.RateLimitFilter)
	ws.Filter(s.AuthFilter)

	ws.Route(ws.GET("/").To(s.index).
		Doc("List endpoints.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"index"}).
		Writes(Index{}))

	/* Users */

	ws.Route(ws.GET("/users").To(s.getUsers).
		Doc("Get users.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Writes([]data.User{}))
	ws.Route(ws.GET("/users/{user-id}").To(s.getUser).
		Doc("Get a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Writes(data.User{}))
	ws.Route(ws.POST("/users").To(s.insertUser).
		Doc("Insert a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Reads(UserRequest{}).
		Writes(Success{}))

	/* Items */

	ws.Route(ws.GET("/items").To(s.getItems).
		Doc("Get items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Writes([]data.Item{}))
	ws.Route(ws.GET("/items/{item-id}").To(s.getItem).
		Doc("Get an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("integer")).
		Writes(data.Item{}))
	ws.Route(ws.POST("/items").To(s.insertItem).
		Doc("Insert an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Reads(ItemRequest{}).
		Writes(Success{}))

	/* Ratings */

	ws.Route(ws.GET("/ratings").To(s.getRatings).
		Doc("Get all ratings in insertion order.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Writes([]data.Rating{}))
	ws.Route(ws.GET("/ratings/{user-id}").To(s.getUserRatings).
		Doc("Get ratings by a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Writes([]data.Rating{}))
	ws.Route(ws.GET("/ratings/{user-id}/{item-id}").To(s.getUserItemRating).
		Doc("Get the latest rating of an item by a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("integer")).
		Writes(data.Rating{}))
	ws.Route(ws.POST("/ratings").To(s.insertRating).
		Doc("Insert a rating and retrain the model according to the training policy.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Reads(RatingRequest{}).
		Writes(RatingResponse{}))

	/* Recommendation */

	ws.Route(ws.GET("/recommendations/{user-id}").To(s.getRecommendations).
		Doc("Recommend items to a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Param(ws.QueryParameter("exclude-rated", "exclude rated items").DataType("boolean").DefaultValue("true")).
		Writes(Recommendations{}))
	ws.Route(ws.GET("/similar-users/{user-id}").To(s.getSimilarUsers).
		Doc("Get users with similar latent factors.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned users").DataType("integer")).
		Writes(SimilarUsers{}))
	ws.Route(ws.GET("/similar-items/{item-id}").To(s.getSimilarItems).
		Doc("Get items with similar latent factors.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes(SimilarItems{}))

	/* Model */

	ws.Route(ws.GET("/model").To(s.getModel).
		Doc("Get the status of the current model.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"model"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Writes(trainer.Status{}))
	ws.Route(ws.POST("/model/retrain").To(s.retrain).
		Doc("Retrain the model synchronously.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"model"}).
		Param(ws.HeaderParameter(HeaderAPIKey, "secret key for RESTful API")).
		Writes(trainer.Status{}))
}

type Index struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *RestServer) index(_ *restful.Request, response *restful.Response) {
	Ok(response, Index{
		Message: "Latent factor recommendation API",
		Version: "1.0",
		Endpoints: map[string]string{
			"users":           "/api/users",
			"items":           "/api/items",
			"ratings":         "/api/ratings",
			"recommendations": "/api/recommendations/<user_id>",
			"similar_users":   "/api/similar-users/<user_id>",
			"similar_items":   "/api/similar-items/<item_id>",
			"model":           "/api/model",
		},
	})
}

// ParseInt parses an integer query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (int, error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueString)
	if err != nil {
		return 0, errors.NotValidf("query parameter %s=%q", name, valueString)
	}
	return value, nil
}

// ParseBool parses a boolean query parameter.
func ParseBool(request *restful.Request, name string, fallback bool) (bool, error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueString)
	if err != nil {
		return false, errors.NotValidf("query parameter %s=%q", name, valueString)
	}
	return value, nil
}

func parsePathID(request *restful.Request, response *restful.Response, name string) (int64, bool) {
	id, err := util.ParseID(request.PathParameter(name))
	if err != nil {
		BadRequest(response, err)
		return 0, false
	}
	return id, true
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(response *restful.Response, status int, message string) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteHeaderAndJson(status, ErrorResponse{Error: message}, restful.MIME_JSON); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	writeError(response, http.StatusBadRequest, err.Error())
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	writeError(response, http.StatusInternalServerError, err.Error())
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, message string) {
	writeError(response, http.StatusNotFound, message)
}

// ServiceUnavailable returns an error when no model can serve the request.
func ServiceUnavailable(response *restful.Response, err error) {
	log.ResponseLogger(response).Warn("service unavailable", zap.Error(err))
	writeError(response, http.StatusServiceUnavailable, err.Error())
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

// modelUnavailable reports whether err means the model cannot be built from
// the current data.
func modelUnavailable(err error) bool {
	return errors.Is(err, cf.ErrEmptyDataset) ||
		errors.Is(err, cf.ErrFactorization) ||
		errors.Is(err, cf.ErrResourceLimit) ||
		errors.Is(err, data.ErrNoDatabase)
}
