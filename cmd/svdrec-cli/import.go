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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gorse-io/svdrec/common/util"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const importBatchSize = 1000

// parseRating parses a row of user, item, rating, review and an optional
// timestamp. A missing timestamp falls back to now.
func parseRating(fields []string, now time.Time) (data.Rating, error) {
	if len(fields) < 4 {
		return data.Rating{}, errors.NotValidf("row with %d columns", len(fields))
	}
	var (
		rating data.Rating
		err    error
	)
	if rating.UserId, err = util.ParseID(fields[0]); err != nil {
		return data.Rating{}, errors.Annotate(err, "user")
	}
	if rating.ItemId, err = util.ParseID(fields[1]); err != nil {
		return data.Rating{}, errors.Annotate(err, "item")
	}
	if rating.Rating, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return data.Rating{}, errors.NotValidf("rating %q", fields[2])
	}
	if rating.Rating < 1 || rating.Rating > 5 {
		return data.Rating{}, errors.NotValidf("rating %v out of [1, 5]", rating.Rating)
	}
	rating.Review = fields[3]
	timestamp := now
	if len(fields) > 4 && fields[4] != "" {
		if timestamp, err = dateparse.ParseAny(fields[4]); err != nil {
			return data.Rating{}, errors.NewNotValid(err, fmt.Sprintf("timestamp %q", fields[4]))
		}
	}
	rating.Timestamp = float64(timestamp.UnixMicro()) / 1e6
	return rating, nil
}

var importCommand = &cobra.Command{
	Use:   "import-ratings <file>",
	Short: "Import ratings from a CSV file",
	Long:  "Import ratings from a CSV file with columns user, item, rating, review and an optional timestamp.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sep, _ := cmd.Flags().GetString("sep")
		header, _ := cmd.Flags().GetBool("header")
		if len(sep) != 1 {
			return errors.NotValidf("separator %q", sep)
		}
		file, err := os.Open(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer file.Close()
		stat, err := file.Stat()
		if err != nil {
			return errors.Trace(err)
		}
		bar := progressbar.DefaultBytes(stat.Size(), "importing")
		reader := csv.NewReader(io.TeeReader(file, bar))
		reader.Comma = rune(sep[0])
		reader.FieldsPerRecord = -1

		ctx := cmd.Context()
		now := time.Now()
		batch := make([]data.Rating, 0, importBatchSize)
		count := 0
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := database.BatchInsertRatings(ctx, batch); err != nil {
				return errors.Trace(err)
			}
			count += len(batch)
			batch = batch[:0]
			return nil
		}
		for line := 1; ; line++ {
			fields, err := reader.Read()
			if err == io.EOF {
				break
			} else if err != nil {
				return errors.Trace(err)
			}
			if header && line == 1 {
				continue
			}
			rating, err := parseRating(fields, now)
			if err != nil {
				return errors.Annotatef(err, "line %d", line)
			}
			if batch = append(batch, rating); len(batch) >= importBatchSize {
				if err = flush(); err != nil {
					return err
				}
			}
		}
		if err = flush(); err != nil {
			return err
		}
		_ = bar.Finish()
		fmt.Printf("\nimported %d ratings\n", count)
		return nil
	},
}

func init() {
	importCommand.Flags().String("sep", ",", "column separator")
	importCommand.Flags().Bool("header", false, "skip the first line")
	cliCommand.AddCommand(importCommand)
}
