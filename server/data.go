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
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

var requestValidator = NewValidator()

type Success struct {
	RowAffected int
}

type UserRequest struct {
	UserId      *int64   `json:"id" validate:"required"`
	Name        string   `json:"name"`
	Preferences []string `json:"preferences"`
}

type ItemRequest struct {
	ItemId      *int64   `json:"id" validate:"required"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	ImageUrl    string   `json:"imageUrl"`
}

// RatingRequest is a rating posted by a client. The timestamp defaults to
// the time the request is received.
type RatingRequest struct {
	UserId    *int64   `json:"userId" validate:"required"`
	ItemId    *int64   `json:"itemId" validate:"required"`
	Rating    *float64 `json:"rating" validate:"required,gte=1,lte=5"`
	Review    *string  `json:"review" validate:"required"`
	Timestamp *float64 `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
}

type RatingResponse struct {
	Message      string      `json:"message"`
	Rating       data.Rating `json:"rating"`
	ModelVersion uint64      `json:"modelVersion"`
}

func (s *RestServer) getUsers(request *restful.Request, response *restful.Response) {
	users, err := s.DataClient.GetUsers(request.Request.Context())
	if err != nil {
		s.storageError(response, err)
		return
	}
	Ok(response, users)
}

func (s *RestServer) getUser(request *restful.Request, response *restful.Response) {
	userId, ok := parsePathID(request, response, "user-id")
	if !ok {
		return
	}
	user, err := s.DataClient.GetUser(request.Request.Context(), userId)
	if err != nil {
		if errors.Is(err, data.ErrUserNotExist) {
			PageNotFound(response, fmt.Sprintf("User with ID %d not found", userId))
		} else {
			s.storageError(response, err)
		}
		return
	}
	Ok(response, user)
}

func (s *RestServer) insertUser(request *restful.Request, response *restful.Response) {
	var temp UserRequest
	if err := request.ReadEntity(&temp); err != nil {
		BadRequest(response, err)
		return
	}
	if err := requestValidator.Struct(&temp); err != nil {
		BadRequest(response, err)
		return
	}
	user := data.User{UserId: *temp.UserId, Name: temp.Name, Preferences: temp.Preferences}
	if err := s.DataClient.BatchInsertUsers(request.Request.Context(), []data.User{user}); err != nil {
		s.storageError(response, err)
		return
	}
	Ok(response, Success{RowAffected: 1})
}

func (s *RestServer) getItems(request *restful.Request, response *restful.Response) {
	items, err := s.DataClient.GetItems(request.Request.Context())
	if err != nil {
		s.storageError(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getItem(request *restful.Request, response *restful.Response) {
	itemId, ok := parsePathID(request, response, "item-id")
	if !ok {
		return
	}
	item, err := s.DataClient.GetItem(request.Request.Context(), itemId)
	if err != nil {
		if errors.Is(err, data.ErrItemNotExist) {
			PageNotFound(response, fmt.Sprintf("Item with ID %d not found", itemId))
		} else {
			s.storageError(response, err)
		}
		return
	}
	Ok(response, item)
}

func (s *RestServer) insertItem(request *restful.Request, response *restful.Response) {
	var temp ItemRequest
	if err := request.ReadEntity(&temp); err != nil {
		BadRequest(response, err)
		return
	}
	if err := requestValidator.Struct(&temp); err != nil {
		BadRequest(response, err)
		return
	}
	item := data.Item{
		ItemId:      *temp.ItemId,
		Name:        temp.Name,
		Category:    temp.Category,
		Description: temp.Description,
		Tags:        temp.Tags,
		ImageUrl:    temp.ImageUrl,
	}
	if err := s.DataClient.BatchInsertItems(request.Request.Context(), []data.Item{item}); err != nil {
		s.storageError(response, err)
		return
	}
	Ok(response, Success{RowAffected: 1})
}

func (s *RestServer) getRatings(request *restful.Request, response *restful.Response) {
	ratings, err := s.DataClient.GetRatings(request.Request.Context())
	if err != nil {
		s.storageError(response, err)
		return
	}
	Ok(response, ratings)
}

func (s *RestServer) getUserRatings(request *restful.Request, response *restful.Response) {
	userId, ok := parsePathID(request, response, "user-id")
	if !ok {
		return
	}
	ratings, err := s.DataClient.GetUserRatings(request.Request.Context(), userId)
	if err != nil {
		s.storageError(response, err)
		return
	}
	if len(ratings) == 0 {
		PageNotFound(response, fmt.Sprintf("No ratings found for user with ID %d", userId))
		return
	}
	Ok(response, ratings)
}

// getUserItemRating returns the latest rating, which is the one the model uses.
func (s *RestServer) getUserItemRating(request *restful.Request, response *restful.Response) {
	userId, ok := parsePathID(request, response, "user-id")
	if !ok {
		return
	}
	itemId, ok := parsePathID(request, response, "item-id")
	if !ok {
		return
	}
	ratings, err := s.DataClient.GetUserItemRatings(request.Request.Context(), userId, itemId)
	if err != nil {
		s.storageError(response, err)
		return
	}
	if len(ratings) == 0 {
		PageNotFound(response, fmt.Sprintf("Rating not found for user %d and item %d", userId, itemId))
		return
	}
	Ok(response, ratings[len(ratings)-1])
}

func (s *RestServer) insertRating(request *restful.Request, response *restful.Response) {
	var temp RatingRequest
	if err := request.ReadEntity(&temp); err != nil {
		BadRequest(response, err)
		return
	}
	if err := requestValidator.Struct(&temp); err != nil {
		BadRequest(response, err)
		return
	}
	rating := data.Rating{
		UserId: *temp.UserId,
		ItemId: *temp.ItemId,
		Rating: *temp.Rating,
		Review: *temp.Review,
	}
	if temp.Timestamp != nil {
		rating.Timestamp = *temp.Timestamp
	} else {
		rating.Timestamp = float64(time.Now().UnixMicro()) / 1e6
	}
	ctx := request.Request.Context()
	if err := s.DataClient.BatchInsertRatings(ctx, []data.Rating{rating}); err != nil {
		s.storageError(response, err)
		return
	}
	// the rating is stored even if retraining fails, the previous model keeps serving
	if err := s.Trainer.OnRatingsChanged(ctx); err != nil {
		log.ResponseLogger(response).Warn("failed to retrain after inserting rating", zap.Error(err))
	}
	var version uint64
	if model := s.Trainer.Model(); model != nil {
		version = model.Version
	}
	Ok(response, RatingResponse{
		Message:      "Rating added successfully",
		Rating:       rating,
		ModelVersion: version,
	})
}

func (s *RestServer) storageError(response *restful.Response, err error) {
	if errors.Is(err, data.ErrNoDatabase) {
		ServiceUnavailable(response, err)
		return
	}
	InternalServerError(response, err)
}
