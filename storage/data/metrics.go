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
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var OperationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "svdrec",
	Subsystem: "database",
	Name:      "operation_seconds",
}, []string{"operation"})

// Instrument records the latency of every operation on the database.
func Instrument(database Database) Database {
	return &instrumented{Database: database}
}

type instrumented struct {
	Database
}

func observe(operation string, start time.Time) {
	OperationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (d *instrumented) BatchInsertUsers(ctx context.Context, users []User) error {
	defer observe("batch_insert_users", time.Now())
	return d.Database.BatchInsertUsers(ctx, users)
}

func (d *instrumented) GetUser(ctx context.Context, userId int64) (User, error) {
	defer observe("get_user", time.Now())
	return d.Database.GetUser(ctx, userId)
}

func (d *instrumented) GetUsers(ctx context.Context) ([]User, error) {
	defer observe("get_users", time.Now())
	return d.Database.GetUsers(ctx)
}

func (d *instrumented) BatchInsertItems(ctx context.Context, items []Item) error {
	defer observe("batch_insert_items", time.Now())
	return d.Database.BatchInsertItems(ctx, items)
}

func (d *instrumented) GetItem(ctx context.Context, itemId int64) (Item, error) {
	defer observe("get_item", time.Now())
	return d.Database.GetItem(ctx, itemId)
}

func (d *instrumented) GetItems(ctx context.Context) ([]Item, error) {
	defer observe("get_items", time.Now())
	return d.Database.GetItems(ctx)
}

func (d *instrumented) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	defer observe("batch_insert_ratings", time.Now())
	return d.Database.BatchInsertRatings(ctx, ratings)
}

func (d *instrumented) GetRatings(ctx context.Context) ([]Rating, error) {
	defer observe("get_ratings", time.Now())
	return d.Database.GetRatings(ctx)
}

func (d *instrumented) GetUserRatings(ctx context.Context, userId int64) ([]Rating, error) {
	defer observe("get_user_ratings", time.Now())
	return d.Database.GetUserRatings(ctx, userId)
}

func (d *instrumented) GetItemRatings(ctx context.Context, itemId int64) ([]Rating, error) {
	defer observe("get_item_ratings", time.Now())
	return d.Database.GetItemRatings(ctx, itemId)
}

func (d *instrumented) GetUserItemRatings(ctx context.Context, userId, itemId int64) ([]Rating, error) {
	defer observe("get_user_item_ratings", time.Now())
	return d.Database.GetUserItemRatings(ctx, userId, itemId)
}

func (d *instrumented) CountRatings(ctx context.Context) (int, error) {
	defer observe("count_ratings", time.Now())
	return d.Database.CountRatings(ctx)
}
