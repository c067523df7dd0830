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
	"encoding/json"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/config"
	"github.com/gorse-io/svdrec/logics"
	"github.com/gorse-io/svdrec/storage"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/gorse-io/svdrec/trainer"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const apiKey = "test_api_key"

type ServerTestSuite struct {
	suite.Suite
	*RestServer
	server        *miniredis.Miniredis
	handler       http.Handler
	restoreLogger func()
}

func (suite *ServerTestSuite) SetupSuite() {
	suite.restoreLogger = log.ReplaceLogger(zap.NewNop())
	var err error
	suite.server, err = miniredis.Run()
	suite.Require().NoError(err)
}

func (suite *ServerTestSuite) TearDownSuite() {
	suite.server.Close()
	suite.restoreLogger()
}

func (suite *ServerTestSuite) SetupTest() {
	suite.server.FlushAll()
	database, err := data.Open(storage.RedisPrefix+suite.server.Addr(), "")
	suite.Require().NoError(err)
	suite.Require().NoError(database.Init())
	cfg := config.GetDefaultConfig()
	cfg.Server.APIKey = apiKey
	cfg.Model.NFactors = 2
	suite.RestServer = NewRestServer(database, trainer.NewTrainer(database, cfg), cfg)
	suite.handler = suite.Handler()
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.NoError(suite.DataClient.Close())
}

func (suite *ServerTestSuite) marshal(v interface{}) string {
	s, err := json.Marshal(v)
	suite.NoError(err)
	return string(s)
}

func (suite *ServerTestSuite) get(url string) *apitest.Request {
	return apitest.New().
		Handler(suite.handler).
		Get(url).
		Header(HeaderAPIKey, apiKey)
}

func (suite *ServerTestSuite) post(url string) *apitest.Request {
	return apitest.New().
		Handler(suite.handler).
		Post(url).
		Header(HeaderAPIKey, apiKey)
}

var testRatings = []data.Rating{
	{UserId: 1, ItemId: 10, Rating: 5, Review: "great", Timestamp: 1},
	{UserId: 1, ItemId: 20, Rating: 3, Review: "ok", Timestamp: 2},
	{UserId: 2, ItemId: 10, Rating: 4, Review: "good", Timestamp: 3},
	{UserId: 2, ItemId: 30, Rating: 2, Review: "meh", Timestamp: 4},
	{UserId: 3, ItemId: 20, Rating: 1, Review: "bad", Timestamp: 5},
	{UserId: 3, ItemId: 30, Rating: 5, Review: "love it", Timestamp: 6},
}

func (suite *ServerTestSuite) train() {
	ctx := context.Background()
	suite.NoError(suite.DataClient.BatchInsertRatings(ctx, testRatings))
	suite.NoError(suite.Trainer.Retrain(ctx))
}

func (suite *ServerTestSuite) TestIndex() {
	t := suite.T()
	suite.get("/api/").
		Expect(t).
		Status(http.StatusOK).
		Assert(func(res *http.Response, _ *http.Request) error {
			var index Index
			if err := json.NewDecoder(res.Body).Decode(&index); err != nil {
				return err
			}
			if index.Endpoints["recommendations"] != "/api/recommendations/<user_id>" {
				return errors.Errorf("unexpected endpoints %v", index.Endpoints)
			}
			return nil
		}).
		End()
}

func (suite *ServerTestSuite) TestUsers() {
	t := suite.T()
	users := []data.User{
		{UserId: 1, Name: "Alice", Preferences: []string{"action"}},
		{UserId: 2, Name: "Bob", Preferences: []string{"drama", "comedy"}},
	}
	for _, user := range users {
		suite.post("/api/users").
			JSON(user).
			Expect(t).
			Status(http.StatusOK).
			Body(`{"RowAffected":1}`).
			End()
	}
	suite.get("/api/users/1").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(users[0])).
		End()
	suite.get("/api/users").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(users)).
		End()
	suite.get("/api/users/3").
		Expect(t).
		Status(http.StatusNotFound).
		Body(`{"error":"User with ID 3 not found"}`).
		End()
	suite.get("/api/users/abc").
		Expect(t).
		Status(http.StatusBadRequest).
		End()
	suite.post("/api/users").
		JSON(`{"name":"Nobody"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Body(`{"error":"id is a required field"}`).
		End()
}

func (suite *ServerTestSuite) TestItems() {
	t := suite.T()
	items := []data.Item{
		{ItemId: 10, Name: "Laptop", Category: "Electronics", Description: "fast", Tags: []string{"tech"}, ImageUrl: "laptop.jpg"},
		{ItemId: 20, Name: "Novel", Category: "Books", Tags: []string{"fiction"}},
	}
	for _, item := range items {
		suite.post("/api/items").
			JSON(item).
			Expect(t).
			Status(http.StatusOK).
			Body(`{"RowAffected":1}`).
			End()
	}
	suite.get("/api/items/10").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(items[0])).
		End()
	suite.get("/api/items").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(items)).
		End()
	suite.get("/api/items/30").
		Expect(t).
		Status(http.StatusNotFound).
		Body(`{"error":"Item with ID 30 not found"}`).
		End()
}

func (suite *ServerTestSuite) TestRatings() {
	t := suite.T()
	suite.NoError(suite.DataClient.BatchInsertRatings(context.Background(), testRatings))
	suite.get("/api/ratings").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(testRatings)).
		End()
	suite.get("/api/ratings/1").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(testRatings[:2])).
		End()
	suite.get("/api/ratings/9").
		Expect(t).
		Status(http.StatusNotFound).
		Body(`{"error":"No ratings found for user with ID 9"}`).
		End()
	suite.get("/api/ratings/2/30").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(testRatings[3])).
		End()
	suite.get("/api/ratings/2/20").
		Expect(t).
		Status(http.StatusNotFound).
		Body(`{"error":"Rating not found for user 2 and item 20"}`).
		End()

	// the latest duplicate is returned
	duplicate := data.Rating{UserId: 2, ItemId: 30, Rating: 4, Review: "better now", Timestamp: 7}
	suite.NoError(suite.DataClient.BatchInsertRatings(context.Background(), []data.Rating{duplicate}))
	suite.get("/api/ratings/2/30").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(duplicate)).
		End()
}

func (suite *ServerTestSuite) TestInsertRating() {
	t := suite.T()
	suite.NoError(suite.DataClient.BatchInsertRatings(context.Background(), testRatings))

	// sync policy retrains before responding
	rating := data.Rating{UserId: 3, ItemId: 10, Rating: 2, Review: "not for me", Timestamp: 8}
	suite.post("/api/ratings").
		JSON(rating).
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(RatingResponse{
			Message:      "Rating added successfully",
			Rating:       rating,
			ModelVersion: 1,
		})).
		End()
	suite.Equal(7, suite.Trainer.Model().CountRatings())

	// timestamp defaults to now
	suite.post("/api/ratings").
		JSON(`{"userId":4,"itemId":20,"rating":3,"review":""}`).
		Expect(t).
		Status(http.StatusOK).
		Assert(func(res *http.Response, _ *http.Request) error {
			var resp RatingResponse
			if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
				return err
			}
			if resp.Rating.Timestamp <= 0 || resp.ModelVersion != 2 {
				return errors.Errorf("unexpected response %v", resp)
			}
			return nil
		}).
		End()

	// validation
	suite.post("/api/ratings").
		JSON(`{"userId":1,"itemId":10,"rating":4}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Body(`{"error":"review is a required field"}`).
		End()
	suite.post("/api/ratings").
		JSON(`{"userId":1,"itemId":10,"rating":6,"review":"too good"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Body(`{"error":"rating must be 5 or less"}`).
		End()
	suite.post("/api/ratings").
		JSON(`{"itemId":10,"review":"who am i"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Body(`{"error":"userId is a required field; rating is a required field"}`).
		End()
	suite.post("/api/ratings").
		JSON(`not json`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()
}

func (suite *ServerTestSuite) TestUntrained() {
	t := suite.T()
	suite.get("/api/recommendations/1").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
	suite.get("/api/similar-users/1").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
	suite.get("/api/similar-items/10").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
	suite.post("/api/model/retrain").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
	suite.get("/api/model").
		Expect(t).
		Status(http.StatusOK).
		Assert(func(res *http.Response, _ *http.Request) error {
			var status trainer.Status
			if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
				return err
			}
			if status.Trained || status.Policy != config.PolicySync {
				return errors.Errorf("unexpected status %v", status)
			}
			return nil
		}).
		End()
}

func (suite *ServerTestSuite) TestRetrain() {
	t := suite.T()
	suite.NoError(suite.DataClient.BatchInsertRatings(context.Background(), testRatings))
	suite.post("/api/model/retrain").
		Expect(t).
		Status(http.StatusOK).
		Assert(func(res *http.Response, _ *http.Request) error {
			var status trainer.Status
			if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
				return err
			}
			if !status.Trained || status.Version != 1 || status.Users != 3 || status.Items != 3 || status.Factors != 2 {
				return errors.Errorf("unexpected status %v", status)
			}
			return nil
		}).
		End()
}

func (suite *ServerTestSuite) TestRecommendations() {
	t := suite.T()
	ctx := context.Background()
	item := data.Item{ItemId: 30, Name: "Headphones", Category: "Electronics"}
	suite.NoError(suite.DataClient.BatchInsertItems(ctx, []data.Item{item}))
	user := data.User{UserId: 1, Name: "Alice"}
	suite.NoError(suite.DataClient.BatchInsertUsers(ctx, []data.User{user}))
	suite.train()

	// user 1 rated items 10 and 20
	predicted, err := suite.Trainer.Model().Predict(1, 30)
	suite.NoError(err)
	affinity, err := logics.Affinity(suite.Trainer.Model(), 1, 30)
	suite.NoError(err)
	suite.get("/api/recommendations/1").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(Recommendations{
			User: &user,
			Recommendations: []Recommendation{
				{Item: &item, PredictedRating: predicted, SimilarityScore: affinity},
			},
		})).
		End()

	scores, err := logics.Recommend(suite.Trainer.Model(), 1, 2, false)
	suite.NoError(err)
	expected := Recommendations{User: &user}
	for _, score := range scores {
		i := &data.Item{ItemId: score.Id}
		if score.Id == item.ItemId {
			i = &item
		}
		affinity, err := logics.Affinity(suite.Trainer.Model(), 1, score.Id)
		suite.NoError(err)
		expected.Recommendations = append(expected.Recommendations, Recommendation{
			Item:            i,
			PredictedRating: score.Score,
			SimilarityScore: affinity,
		})
	}
	suite.get("/api/recommendations/1").
		Query("n", "2").
		Query("exclude-rated", "false").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(expected)).
		End()

	suite.get("/api/recommendations/1").
		Query("n", "0").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(Recommendations{User: &user, Recommendations: []Recommendation{}})).
		End()
	suite.get("/api/recommendations/9").
		Expect(t).
		Status(http.StatusNotFound).
		Body(`{"error":"User with ID 9 not found"}`).
		End()
	suite.get("/api/recommendations/1").
		Query("n", "many").
		Expect(t).
		Status(http.StatusBadRequest).
		End()
	suite.get("/api/recommendations/1").
		Query("exclude-rated", "maybe").
		Expect(t).
		Status(http.StatusBadRequest).
		End()
}

func (suite *ServerTestSuite) TestSimilarUsers() {
	t := suite.T()
	suite.train()
	scores, err := logics.SimilarUsers(suite.Trainer.Model(), 1, 3)
	suite.NoError(err)
	suite.Len(scores, 2)
	expected := SimilarUsers{User: &data.User{UserId: 1}}
	for _, score := range scores {
		expected.SimilarUsers = append(expected.SimilarUsers, SimilarUser{
			User:            &data.User{UserId: score.Id},
			SimilarityScore: score.Score,
		})
	}
	suite.get("/api/similar-users/1").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(expected)).
		End()
	suite.get("/api/similar-users/9").
		Expect(t).
		Status(http.StatusNotFound).
		Body(`{"error":"User with ID 9 not found"}`).
		End()
}

func (suite *ServerTestSuite) TestSimilarItems() {
	t := suite.T()
	suite.train()
	scores, err := logics.SimilarItems(suite.Trainer.Model(), 10, 1)
	suite.NoError(err)
	suite.Len(scores, 1)
	suite.get("/api/similar-items/10").
		Query("n", "1").
		Expect(t).
		Status(http.StatusOK).
		Body(suite.marshal(SimilarItems{
			Item: &data.Item{ItemId: 10},
			SimilarItems: []SimilarItem{
				{Item: &data.Item{ItemId: scores[0].Id}, SimilarityScore: scores[0].Score},
			},
		})).
		End()
	suite.get("/api/similar-items/99").
		Expect(t).
		Status(http.StatusNotFound).
		Body(`{"error":"Item with ID 99 not found"}`).
		End()
}

func (suite *ServerTestSuite) TestCache() {
	t := suite.T()
	suite.train()
	hits := testutil.ToFloat64(CacheHitsTotal)
	misses := testutil.ToFloat64(CacheMissesTotal)
	suite.get("/api/similar-users/2").Expect(t).Status(http.StatusOK).End()
	suite.get("/api/similar-users/2").Expect(t).Status(http.StatusOK).End()
	suite.Equal(hits+1, testutil.ToFloat64(CacheHitsTotal))
	suite.Equal(misses+1, testutil.ToFloat64(CacheMissesTotal))

	// a new model version misses the cache
	suite.NoError(suite.Trainer.Retrain(context.Background()))
	suite.get("/api/similar-users/2").Expect(t).Status(http.StatusOK).End()
	suite.Equal(misses+2, testutil.ToFloat64(CacheMissesTotal))
}

func (suite *ServerTestSuite) TestAuth() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get("/api/users").
		Expect(t).
		Status(http.StatusUnauthorized).
		Body(`{"error":"Unauthorized"}`).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/api/users").
		Header(HeaderAPIKey, "wrong").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}

func (suite *ServerTestSuite) TestRequestID() {
	t := suite.T()
	suite.get("/api/").
		Header(HeaderRequestID, "request-1").
		Expect(t).
		Status(http.StatusOK).
		Header(HeaderRequestID, "request-1").
		End()
	suite.get("/api/").
		Expect(t).
		Status(http.StatusOK).
		HeaderPresent(HeaderRequestID).
		End()
}

func (suite *ServerTestSuite) TestDocsAndMetrics() {
	t := suite.T()
	apitest.New().
		Handler(suite.handler).
		Get(apiSpecPath).
		Expect(t).
		Status(http.StatusOK).
		End()
	apitest.New().
		Handler(suite.handler).
		Get("/metrics").
		Expect(t).
		Status(http.StatusOK).
		End()
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func TestRateLimit(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Server.RequestRate = 1
	s := NewRestServer(data.NoDatabase{}, trainer.NewTrainer(data.NoDatabase{}, cfg), cfg)
	handler := s.Handler()
	apitest.New().
		Handler(handler).
		Get("/api/").
		Expect(t).
		Status(http.StatusOK).
		End()
	apitest.New().
		Handler(handler).
		Get("/api/").
		Expect(t).
		Status(http.StatusTooManyRequests).
		Body(`{"error":"Too many requests"}`).
		End()
}

func TestNoDatabase(t *testing.T) {
	cfg := config.GetDefaultConfig()
	s := NewRestServer(data.NoDatabase{}, trainer.NewTrainer(data.NoDatabase{}, cfg), cfg)
	apitest.New().
		Handler(s.Handler()).
		Get("/api/users").
		Expect(t).
		Status(http.StatusServiceUnavailable).
		End()
}
