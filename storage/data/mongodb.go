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

	"github.com/gorse-io/svdrec/storage"
	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the data storage based on MongoDB. Users and items are keyed by
// their ids. Ratings are ordered by the generated ObjectId.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

func (db *MongoDB) collection(name string) *mongo.Collection {
	return db.client.Database(db.dbName).Collection(name)
}

// Init collections and indices in MongoDB.
func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	// list collections
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	exist := make(map[string]bool, len(collections))
	for _, name := range collections {
		exist[name] = true
	}
	// create collections
	for _, name := range []string{db.UsersTable(), db.ItemsTable(), db.RatingsTable()} {
		if !exist[name] {
			if err = d.CreateCollection(ctx, name); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// create index
	_, err = d.Collection(db.RatingsTable()).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "item_id", Value: 1}}},
		{Keys: bson.D{{Key: "item_id", Value: 1}}},
	})
	return errors.Trace(err)
}

func (db *MongoDB) Ping() error {
	return db.client.Ping(context.Background(), nil)
}

// Close connection to MongoDB.
func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}

func (db *MongoDB) Purge() error {
	ctx := context.Background()
	for _, name := range []string{db.UsersTable(), db.ItemsTable(), db.RatingsTable()} {
		if _, err := db.collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (db *MongoDB) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, user := range users {
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": user.UserId}).
			SetReplacement(user))
	}
	_, err := db.collection(db.UsersTable()).BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) GetUser(ctx context.Context, userId int64) (User, error) {
	var user User
	err := db.collection(db.UsersTable()).FindOne(ctx, bson.M{"_id": userId}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return User{}, errors.Annotatef(ErrUserNotExist, "user %d", userId)
	}
	return user, errors.Trace(err)
}

func (db *MongoDB) GetUsers(ctx context.Context) ([]User, error) {
	cur, err := db.collection(db.UsersTable()).Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	users := make([]User, 0)
	if err = cur.All(ctx, &users); err != nil {
		return nil, errors.Trace(err)
	}
	return users, nil
}

func (db *MongoDB) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, item := range items {
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": item.ItemId}).
			SetReplacement(item))
	}
	_, err := db.collection(db.ItemsTable()).BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) GetItem(ctx context.Context, itemId int64) (Item, error) {
	var item Item
	err := db.collection(db.ItemsTable()).FindOne(ctx, bson.M{"_id": itemId}).Decode(&item)
	if err == mongo.ErrNoDocuments {
		return Item{}, errors.Annotatef(ErrItemNotExist, "item %d", itemId)
	}
	return item, errors.Trace(err)
}

func (db *MongoDB) GetItems(ctx context.Context) ([]Item, error) {
	cur, err := db.collection(db.ItemsTable()).Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]Item, 0)
	if err = cur.All(ctx, &items); err != nil {
		return nil, errors.Trace(err)
	}
	return items, nil
}

func (db *MongoDB) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	docs := make([]any, len(ratings))
	for i, rating := range ratings {
		docs[i] = rating
	}
	_, err := db.collection(db.RatingsTable()).InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return errors.Trace(err)
}

func (db *MongoDB) findRatings(ctx context.Context, filter bson.M) ([]Rating, error) {
	cur, err := db.collection(db.RatingsTable()).Find(ctx, filter, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]Rating, 0)
	if err = cur.All(ctx, &ratings); err != nil {
		return nil, errors.Trace(err)
	}
	return ratings, nil
}

func (db *MongoDB) GetRatings(ctx context.Context) ([]Rating, error) {
	return db.findRatings(ctx, bson.M{})
}

func (db *MongoDB) GetUserRatings(ctx context.Context, userId int64) ([]Rating, error) {
	return db.findRatings(ctx, bson.M{"user_id": userId})
}

func (db *MongoDB) GetItemRatings(ctx context.Context, itemId int64) ([]Rating, error) {
	return db.findRatings(ctx, bson.M{"item_id": itemId})
}

func (db *MongoDB) GetUserItemRatings(ctx context.Context, userId, itemId int64) ([]Rating, error) {
	return db.findRatings(ctx, bson.M{"user_id": userId, "item_id": itemId})
}

func (db *MongoDB) CountRatings(ctx context.Context) (int, error) {
	n, err := db.collection(db.RatingsTable()).CountDocuments(ctx, bson.M{})
	return int(n), errors.Trace(err)
}

func (db *MongoDB) GetRatingStream(ctx context.Context, batchSize int) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		opt := options.Find().SetSort(bson.M{"_id": 1}).SetBatchSize(int32(batchSize))
		cur, err := db.collection(db.RatingsTable()).Find(ctx, bson.M{}, opt)
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		defer cur.Close(ctx)
		ratings := make([]Rating, 0, batchSize)
		for cur.Next(ctx) {
			var rating Rating
			if err = cur.Decode(&rating); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			ratings = append(ratings, rating)
			if len(ratings) == batchSize {
				ratingChan <- ratings
				ratings = make([]Rating, 0, batchSize)
			}
		}
		if err = cur.Err(); err != nil {
			errChan <- errors.Trace(err)
			return
		}
		if len(ratings) > 0 {
			ratingChan <- ratings
		}
		errChan <- nil
	}()
	return ratingChan, errChan
}
