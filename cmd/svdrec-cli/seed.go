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

package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorse-io/svdrec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

//go:embed sample.json
var sampleJSON []byte

// Sample is a small data set of users, items and reviewed ratings.
type Sample struct {
	Users   []data.User
	Items   []data.Item
	Ratings []data.Rating
}

type sampleRating struct {
	UserId int64   `json:"userId"`
	ItemId int64   `json:"itemId"`
	Rating float64 `json:"rating"`
	Review string  `json:"review"`
	Age    string  `json:"age"`
}

// LoadSample decodes the embedded sample. Ratings are timestamped relative to
// now by their age.
func LoadSample(now time.Time) (*Sample, error) {
	var raw struct {
		Users   []data.User    `json:"users"`
		Items   []data.Item    `json:"items"`
		Ratings []sampleRating `json:"ratings"`
	}
	if err := json.Unmarshal(sampleJSON, &raw); err != nil {
		return nil, errors.Trace(err)
	}
	sample := &Sample{Users: raw.Users, Items: raw.Items}
	for _, r := range raw.Ratings {
		age, err := time.ParseDuration(r.Age)
		if err != nil {
			return nil, errors.Annotatef(err, "rating of user %d on item %d", r.UserId, r.ItemId)
		}
		sample.Ratings = append(sample.Ratings, data.Rating{
			UserId:    r.UserId,
			ItemId:    r.ItemId,
			Rating:    r.Rating,
			Review:    r.Review,
			Timestamp: float64(now.Add(-age).UnixMicro()) / 1e6,
		})
	}
	return sample, nil
}

var seedCommand = &cobra.Command{
	Use:   "seed",
	Short: "Load sample users, items and ratings into the data store",
	RunE: func(cmd *cobra.Command, args []string) error {
		sample, err := LoadSample(time.Now())
		if err != nil {
			return errors.Trace(err)
		}
		ctx := cmd.Context()
		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			if err = database.Purge(); err != nil {
				return errors.Trace(err)
			}
		}
		if err = database.BatchInsertUsers(ctx, sample.Users); err != nil {
			return errors.Trace(err)
		}
		if err = database.BatchInsertItems(ctx, sample.Items); err != nil {
			return errors.Trace(err)
		}
		for _, chunk := range lo.Chunk(sample.Ratings, 10) {
			if err = database.BatchInsertRatings(ctx, chunk); err != nil {
				return errors.Trace(err)
			}
		}
		fmt.Printf("inserted %d users, %d items and %d ratings\n",
			len(sample.Users), len(sample.Items), len(sample.Ratings))
		return nil
	},
}

func init() {
	seedCommand.Flags().Bool("purge", false, "remove existing data before seeding")
	cliCommand.AddCommand(seedCommand)
}
