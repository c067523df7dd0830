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

package data

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/gorse-io/svdrec/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// Redis stores users and items in hashes and ratings in lists. It loads whole
// lists into memory and is meant for small deployments and tests.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) usersKey() string {
	return r.Key("users")
}

func (r *Redis) itemsKey() string {
	return r.Key("items")
}

func (r *Redis) ratingsKey() string {
	return r.Key("ratings")
}

func (r *Redis) userRatingsKey(userId int64) string {
	return r.Key(fmt.Sprintf("user_ratings/%d", userId))
}

func (r *Redis) itemRatingsKey(itemId int64) string {
	return r.Key(fmt.Sprintf("item_ratings/%d", itemId))
}

func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Purge deletes all keys under the table prefix.
func (r *Redis) Purge() error {
	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.Key("*"), 100).Result()
		if err != nil {
			return errors.Trace(err)
		}
		if len(keys) > 0 {
			if err = r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Trace(err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *Redis) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(users))
	for _, user := range users {
		data, err := json.Marshal(user)
		if err != nil {
			return errors.Trace(err)
		}
		values = append(values, strconv.FormatInt(user.UserId, 10), data)
	}
	return errors.Trace(r.client.HSet(ctx, r.usersKey(), values...).Err())
}

func (r *Redis) GetUser(ctx context.Context, userId int64) (User, error) {
	data, err := r.client.HGet(ctx, r.usersKey(), strconv.FormatInt(userId, 10)).Bytes()
	if err == redis.Nil {
		return User{}, errors.Annotatef(ErrUserNotExist, "user %d", userId)
	} else if err != nil {
		return User{}, errors.Trace(err)
	}
	var user User
	err = json.Unmarshal(data, &user)
	return user, errors.Trace(err)
}

func (r *Redis) GetUsers(ctx context.Context) ([]User, error) {
	values, err := r.client.HVals(ctx, r.usersKey()).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	users := make([]User, len(values))
	for i, value := range values {
		if err = json.Unmarshal([]byte(value), &users[i]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	slices.SortFunc(users, func(a, b User) int { return cmp.Compare(a.UserId, b.UserId) })
	return users, nil
}

func (r *Redis) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return errors.Trace(err)
		}
		values = append(values, strconv.FormatInt(item.ItemId, 10), data)
	}
	return errors.Trace(r.client.HSet(ctx, r.itemsKey(), values...).Err())
}

func (r *Redis) GetItem(ctx context.Context, itemId int64) (Item, error) {
	data, err := r.client.HGet(ctx, r.itemsKey(), strconv.FormatInt(itemId, 10)).Bytes()
	if err == redis.Nil {
		return Item{}, errors.Annotatef(ErrItemNotExist, "item %d", itemId)
	} else if err != nil {
		return Item{}, errors.Trace(err)
	}
	var item Item
	err = json.Unmarshal(data, &item)
	return item, errors.Trace(err)
}

func (r *Redis) GetItems(ctx context.Context) ([]Item, error) {
	values, err := r.client.HVals(ctx, r.itemsKey()).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]Item, len(values))
	for i, value := range values {
		if err = json.Unmarshal([]byte(value), &items[i]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	slices.SortFunc(items, func(a, b Item) int { return cmp.Compare(a.ItemId, b.ItemId) })
	return items, nil
}

// BatchInsertRatings appends ratings to the global list and the per-user and
// per-item lists in one transaction.
func (r *Redis) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rating := range ratings {
			data, err := json.Marshal(rating)
			if err != nil {
				return errors.Trace(err)
			}
			pipe.RPush(ctx, r.ratingsKey(), data)
			pipe.RPush(ctx, r.userRatingsKey(rating.UserId), data)
			pipe.RPush(ctx, r.itemRatingsKey(rating.ItemId), data)
		}
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) getRatings(ctx context.Context, key string, start, stop int64) ([]Rating, error) {
	values, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]Rating, len(values))
	for i, value := range values {
		if err = json.Unmarshal([]byte(value), &ratings[i]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return ratings, nil
}

func (r *Redis) GetRatings(ctx context.Context) ([]Rating, error) {
	return r.getRatings(ctx, r.ratingsKey(), 0, -1)
}

func (r *Redis) GetUserRatings(ctx context.Context, userId int64) ([]Rating, error) {
	return r.getRatings(ctx, r.userRatingsKey(userId), 0, -1)
}

func (r *Redis) GetItemRatings(ctx context.Context, itemId int64) ([]Rating, error) {
	return r.getRatings(ctx, r.itemRatingsKey(itemId), 0, -1)
}

func (r *Redis) GetUserItemRatings(ctx context.Context, userId, itemId int64) ([]Rating, error) {
	ratings, err := r.GetUserRatings(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return slices.DeleteFunc(ratings, func(rating Rating) bool {
		return rating.ItemId != itemId
	}), nil
}

func (r *Redis) CountRatings(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.ratingsKey()).Result()
	return int(n), errors.Trace(err)
}

func (r *Redis) GetRatingStream(ctx context.Context, batchSize int) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		for start := int64(0); ; start += int64(batchSize) {
			ratings, err := r.getRatings(ctx, r.ratingsKey(), start, start+int64(batchSize)-1)
			if err != nil {
				errChan <- errors.Trace(err)
				return
			}
			if len(ratings) > 0 {
				ratingChan <- ratings
			}
			if len(ratings) < batchSize {
				break
			}
		}
		errChan <- nil
	}()
	return ratingChan, errChan
}
