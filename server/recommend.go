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

	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/svdrec/logics"
	"github.com/gorse-io/svdrec/model/cf"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
)

// Recommendation carries the predicted rating of an item and the cosine
// similarity between the latent factors of the user and the item.
type Recommendation struct {
	Item            *data.Item `json:"item"`
	PredictedRating float64    `json:"predicted_rating"`
	SimilarityScore float64    `json:"similarity_score"`
}

type Recommendations struct {
	User            *data.User       `json:"user"`
	Recommendations []Recommendation `json:"recommendations"`
}

type SimilarUser struct {
	User            *data.User `json:"user"`
	SimilarityScore float64    `json:"similarity_score"`
}

type SimilarUsers struct {
	User         *data.User    `json:"user"`
	SimilarUsers []SimilarUser `json:"similar_users"`
}

type SimilarItem struct {
	Item            *data.Item `json:"item"`
	SimilarityScore float64    `json:"similarity_score"`
}

type SimilarItems struct {
	Item         *data.Item    `json:"item"`
	SimilarItems []SimilarItem `json:"similar_items"`
}

// currentModel returns the published model or writes 503 if none is trained.
func (s *RestServer) currentModel(response *restful.Response) (*cf.Model, bool) {
	model := s.Trainer.Model()
	if model == nil {
		ServiceUnavailable(response, errors.New("model is not trained"))
		return nil, false
	}
	return model, true
}

// cached returns scores of a query against a model version. A new model
// version never hits entries of an older one.
func (s *RestServer) cached(model *cf.Model, query string, compute func() ([]logics.Score, error)) ([]logics.Score, error) {
	key := fmt.Sprintf("%d/%s", model.Version, query)
	if item := s.cache.Get(key); item != nil {
		CacheHitsTotal.Inc()
		return item.Value(), nil
	}
	CacheMissesTotal.Inc()
	scores, err := compute()
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, scores, ttlcache.DefaultTTL)
	return scores, nil
}

// user returns meta data of a user. Users that only exist in ratings carry
// their id alone.
func (s *RestServer) user(ctx context.Context, userId int64) (*data.User, error) {
	user, err := s.DataClient.GetUser(ctx, userId)
	if errors.Is(err, data.ErrUserNotExist) {
		return &data.User{UserId: userId}, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return &user, nil
}

// item returns meta data of an item. Items that only exist in ratings carry
// their id alone.
func (s *RestServer) item(ctx context.Context, itemId int64) (*data.Item, error) {
	item, err := s.DataClient.GetItem(ctx, itemId)
	if errors.Is(err, data.ErrItemNotExist) {
		return &data.Item{ItemId: itemId}, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return &item, nil
}

func (s *RestServer) getRecommendations(request *restful.Request, response *restful.Response) {
	userId, ok := parsePathID(request, response, "user-id")
	if !ok {
		return
	}
	n, err := ParseInt(request, "n", s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	excludeRated, err := ParseBool(request, "exclude-rated", true)
	if err != nil {
		BadRequest(response, err)
		return
	}
	model, ok := s.currentModel(response)
	if !ok {
		return
	}
	scores, err := s.cached(model, fmt.Sprintf("recommend/%d/%d/%v", userId, n, excludeRated), func() ([]logics.Score, error) {
		return logics.Recommend(model, userId, n, excludeRated)
	})
	if err != nil {
		if errors.Is(err, cf.ErrUnknownUser) {
			PageNotFound(response, fmt.Sprintf("User with ID %d not found", userId))
		} else {
			InternalServerError(response, err)
		}
		return
	}

	ctx := request.Request.Context()
	result := Recommendations{Recommendations: make([]Recommendation, 0, len(scores))}
	if result.User, err = s.user(ctx, userId); err != nil {
		s.storageError(response, err)
		return
	}
	for _, score := range scores {
		item, err := s.item(ctx, score.Id)
		if err != nil {
			s.storageError(response, err)
			return
		}
		affinity, err := logics.Affinity(model, userId, score.Id)
		if err != nil {
			InternalServerError(response, err)
			return
		}
		result.Recommendations = append(result.Recommendations, Recommendation{
			Item:            item,
			PredictedRating: score.Score,
			SimilarityScore: affinity,
		})
	}
	Ok(response, result)
}

func (s *RestServer) getSimilarUsers(request *restful.Request, response *restful.Response) {
	userId, ok := parsePathID(request, response, "user-id")
	if !ok {
		return
	}
	n, err := ParseInt(request, "n", s.Config.Server.DefaultSimilarUsersN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	model, ok := s.currentModel(response)
	if !ok {
		return
	}
	scores, err := s.cached(model, fmt.Sprintf("similar-users/%d/%d", userId, n), func() ([]logics.Score, error) {
		return logics.SimilarUsers(model, userId, n)
	})
	if err != nil {
		if errors.Is(err, cf.ErrUnknownUser) {
			PageNotFound(response, fmt.Sprintf("User with ID %d not found", userId))
		} else {
			InternalServerError(response, err)
		}
		return
	}

	ctx := request.Request.Context()
	result := SimilarUsers{SimilarUsers: make([]SimilarUser, 0, len(scores))}
	if result.User, err = s.user(ctx, userId); err != nil {
		s.storageError(response, err)
		return
	}
	for _, score := range scores {
		user, err := s.user(ctx, score.Id)
		if err != nil {
			s.storageError(response, err)
			return
		}
		result.SimilarUsers = append(result.SimilarUsers, SimilarUser{User: user, SimilarityScore: score.Score})
	}
	Ok(response, result)
}

func (s *RestServer) getSimilarItems(request *restful.Request, response *restful.Response) {
	itemId, ok := parsePathID(request, response, "item-id")
	if !ok {
		return
	}
	n, err := ParseInt(request, "n", s.Config.Server.DefaultSimilarItemsN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	model, ok := s.currentModel(response)
	if !ok {
		return
	}
	scores, err := s.cached(model, fmt.Sprintf("similar-items/%d/%d", itemId, n), func() ([]logics.Score, error) {
		return logics.SimilarItems(model, itemId, n)
	})
	if err != nil {
		if errors.Is(err, cf.ErrUnknownItem) {
			PageNotFound(response, fmt.Sprintf("Item with ID %d not found", itemId))
		} else {
			InternalServerError(response, err)
		}
		return
	}

	ctx := request.Request.Context()
	result := SimilarItems{SimilarItems: make([]SimilarItem, 0, len(scores))}
	if result.Item, err = s.item(ctx, itemId); err != nil {
		s.storageError(response, err)
		return
	}
	for _, score := range scores {
		item, err := s.item(ctx, score.Id)
		if err != nil {
			s.storageError(response, err)
			return
		}
		result.SimilarItems = append(result.SimilarItems, SimilarItem{Item: item, SimilarityScore: score.Score})
	}
	Ok(response, result)
}

func (s *RestServer) getModel(_ *restful.Request, response *restful.Response) {
	Ok(response, s.Trainer.Status())
}

func (s *RestServer) retrain(request *restful.Request, response *restful.Response) {
	if err := s.Trainer.Retrain(request.Request.Context()); err != nil {
		if modelUnavailable(err) {
			ServiceUnavailable(response, err)
		} else {
			InternalServerError(response, err)
		}
		return
	}
	Ok(response, s.Trainer.Status())
}
