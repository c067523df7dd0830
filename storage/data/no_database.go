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

import "context"

// NoDatabase is returned when no data store is configured. Every operation fails with ErrNoDatabase.
type NoDatabase struct{}

func (NoDatabase) Init() error {
	return ErrNoDatabase
}

func (NoDatabase) Ping() error {
	return ErrNoDatabase
}

func (NoDatabase) Close() error {
	return ErrNoDatabase
}

func (NoDatabase) Purge() error {
	return ErrNoDatabase
}

func (NoDatabase) BatchInsertUsers(_ context.Context, _ []User) error {
	return ErrNoDatabase
}

func (NoDatabase) GetUser(_ context.Context, _ int64) (User, error) {
	return User{}, ErrNoDatabase
}

func (NoDatabase) GetUsers(_ context.Context) ([]User, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) BatchInsertItems(_ context.Context, _ []Item) error {
	return ErrNoDatabase
}

func (NoDatabase) GetItem(_ context.Context, _ int64) (Item, error) {
	return Item{}, ErrNoDatabase
}

func (NoDatabase) GetItems(_ context.Context) ([]Item, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) BatchInsertRatings(_ context.Context, _ []Rating) error {
	return ErrNoDatabase
}

func (NoDatabase) GetRatings(_ context.Context) ([]Rating, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) GetRatingStream(_ context.Context, _ int) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	errChan <- ErrNoDatabase
	close(ratingChan)
	close(errChan)
	return ratingChan, errChan
}

func (NoDatabase) GetUserRatings(_ context.Context, _ int64) ([]Rating, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) GetItemRatings(_ context.Context, _ int64) ([]Rating, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) GetUserItemRatings(_ context.Context, _, _ int64) ([]Rating, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) CountRatings(_ context.Context) (int, error) {
	return 0, ErrNoDatabase
}
