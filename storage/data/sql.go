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
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorse-io/svdrec/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

const bufSize = 1

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

type SQLUser struct {
	UserId      int64    `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Name        string   `gorm:"column:name;type:varchar(256)"`
	Preferences []string `gorm:"column:preferences;type:text;serializer:json"`
}

func (u SQLUser) toUser() User {
	return User{UserId: u.UserId, Name: u.Name, Preferences: u.Preferences}
}

type SQLItem struct {
	ItemId      int64    `gorm:"column:item_id;primaryKey;autoIncrement:false"`
	Name        string   `gorm:"column:name;type:varchar(256)"`
	Category    string   `gorm:"column:category;type:varchar(256)"`
	Description string   `gorm:"column:description;type:text"`
	Tags        []string `gorm:"column:tags;type:text;serializer:json"`
	ImageUrl    string   `gorm:"column:image_url;type:text"`
}

func (i SQLItem) toItem() Item {
	return Item{
		ItemId:      i.ItemId,
		Name:        i.Name,
		Category:    i.Category,
		Description: i.Description,
		Tags:        i.Tags,
		ImageUrl:    i.ImageUrl,
	}
}

// SQLRating keeps ratings in insertion order by an auto-increment id.
type SQLRating struct {
	Id        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	UserId    int64   `gorm:"column:user_id;index"`
	ItemId    int64   `gorm:"column:item_id;index"`
	Rating    float64 `gorm:"column:rating"`
	Review    string  `gorm:"column:review;type:text"`
	Timestamp float64 `gorm:"column:time_stamp"`
}

func (r SQLRating) toRating() Rating {
	return Rating{UserId: r.UserId, ItemId: r.ItemId, Rating: r.Rating, Review: r.Review, Timestamp: r.Timestamp}
}

// SQLDatabase stores data in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	tx := d.gormDB
	if d.driver == MySQL {
		tx = tx.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	if err := tx.AutoMigrate(&SQLUser{}, &SQLItem{}, &SQLRating{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

func (d *SQLDatabase) Purge() error {
	for _, table := range []string{d.UsersTable(), d.ItemsTable(), d.RatingsTable()} {
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertUsers inserts users and overwrites existing ones.
func (d *SQLDatabase) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	rows := lo.Map(users, func(u User, _ int) SQLUser {
		return SQLUser{UserId: u.UserId, Name: u.Name, Preferences: u.Preferences}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "preferences"}),
	}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetUser(ctx context.Context, userId int64) (User, error) {
	var rows []SQLUser
	if err := d.gormDB.WithContext(ctx).Where("user_id = ?", userId).Limit(1).Find(&rows).Error; err != nil {
		return User{}, errors.Trace(err)
	}
	if len(rows) == 0 {
		return User{}, errors.Annotatef(ErrUserNotExist, "user %d", userId)
	}
	return rows[0].toUser(), nil
}

// GetUsers returns all users ordered by id.
func (d *SQLDatabase) GetUsers(ctx context.Context) ([]User, error) {
	var rows []SQLUser
	if err := d.gormDB.WithContext(ctx).Order("user_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(u SQLUser, _ int) User { return u.toUser() }), nil
}

// BatchInsertItems inserts items and overwrites existing ones.
func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := lo.Map(items, func(i Item, _ int) SQLItem {
		return SQLItem{
			ItemId:      i.ItemId,
			Name:        i.Name,
			Category:    i.Category,
			Description: i.Description,
			Tags:        i.Tags,
			ImageUrl:    i.ImageUrl,
		}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "description", "tags", "image_url"}),
	}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetItem(ctx context.Context, itemId int64) (Item, error) {
	var rows []SQLItem
	if err := d.gormDB.WithContext(ctx).Where("item_id = ?", itemId).Limit(1).Find(&rows).Error; err != nil {
		return Item{}, errors.Trace(err)
	}
	if len(rows) == 0 {
		return Item{}, errors.Annotatef(ErrItemNotExist, "item %d", itemId)
	}
	return rows[0].toItem(), nil
}

// GetItems returns all items ordered by id.
func (d *SQLDatabase) GetItems(ctx context.Context) ([]Item, error) {
	var rows []SQLItem
	if err := d.gormDB.WithContext(ctx).Order("item_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(i SQLItem, _ int) Item { return i.toItem() }), nil
}

// BatchInsertRatings appends ratings.
func (d *SQLDatabase) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	rows := lo.Map(ratings, func(r Rating, _ int) SQLRating {
		return SQLRating{UserId: r.UserId, ItemId: r.ItemId, Rating: r.Rating, Review: r.Review, Timestamp: r.Timestamp}
	})
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&rows).Error)
}

func (d *SQLDatabase) findRatings(ctx context.Context, query any, args ...any) ([]Rating, error) {
	var rows []SQLRating
	tx := d.gormDB.WithContext(ctx)
	if query != nil {
		tx = tx.Where(query, args...)
	}
	if err := tx.Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(r SQLRating, _ int) Rating { return r.toRating() }), nil
}

func (d *SQLDatabase) GetRatings(ctx context.Context) ([]Rating, error) {
	return d.findRatings(ctx, nil)
}

func (d *SQLDatabase) GetUserRatings(ctx context.Context, userId int64) ([]Rating, error) {
	return d.findRatings(ctx, "user_id = ?", userId)
}

func (d *SQLDatabase) GetItemRatings(ctx context.Context, itemId int64) ([]Rating, error) {
	return d.findRatings(ctx, "item_id = ?", itemId)
}

func (d *SQLDatabase) GetUserItemRatings(ctx context.Context, userId, itemId int64) ([]Rating, error) {
	return d.findRatings(ctx, "user_id = ? AND item_id = ?", userId, itemId)
}

func (d *SQLDatabase) CountRatings(ctx context.Context) (int, error) {
	var count int64
	if err := d.gormDB.WithContext(ctx).Model(&SQLRating{}).Count(&count).Error; err != nil {
		return 0, errors.Trace(err)
	}
	return int(count), nil
}

// GetRatingStream reads ratings in insertion order by batch.
func (d *SQLDatabase) GetRatingStream(ctx context.Context, batchSize int) (chan []Rating, chan error) {
	ratingChan := make(chan []Rating, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(ratingChan)
		defer close(errChan)
		// send query
		result, err := d.gormDB.WithContext(ctx).Model(&SQLRating{}).Order("id").Rows()
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		// fetch result
		ratings := make([]Rating, 0, batchSize)
		defer result.Close()
		for result.Next() {
			var row SQLRating
			if err = d.gormDB.ScanRows(result, &row); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			ratings = append(ratings, row.toRating())
			if len(ratings) == batchSize {
				ratingChan <- ratings
				ratings = make([]Rating, 0, batchSize)
			}
		}
		if err = result.Err(); err != nil {
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
