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
	"os"
	"strconv"

	"github.com/gorse-io/svdrec/common/util"
	"github.com/gorse-io/svdrec/logics"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func renderScores(header string, scores []logics.Score) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "ID", header)
	for i, score := range scores {
		if err := table.Append(strconv.Itoa(i+1), util.FormatID(score.Id),
			strconv.FormatFloat(score.Score, 'f', 4, 64)); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

var recommendCommand = &cobra.Command{
	Use:   "recommend <user-id>",
	Short: "Recommend items for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := util.ParseID(args[0])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		excludeRated, _ := cmd.Flags().GetBool("exclude-rated")
		t, err := train(cmd)
		if err != nil {
			return err
		}
		scores, err := logics.Recommend(t.Model(), userId, n, excludeRated)
		if err != nil {
			return errors.Trace(err)
		}
		return renderScores("Predicted Rating", scores)
	},
}

var similarUsersCommand = &cobra.Command{
	Use:   "similar-users <user-id>",
	Short: "Find users with similar taste",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := util.ParseID(args[0])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		t, err := train(cmd)
		if err != nil {
			return err
		}
		scores, err := logics.SimilarUsers(t.Model(), userId, n)
		if err != nil {
			return errors.Trace(err)
		}
		return renderScores("Similarity", scores)
	},
}

var similarItemsCommand = &cobra.Command{
	Use:   "similar-items <item-id>",
	Short: "Find items rated alike",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemId, err := util.ParseID(args[0])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		t, err := train(cmd)
		if err != nil {
			return err
		}
		scores, err := logics.SimilarItems(t.Model(), itemId, n)
		if err != nil {
			return errors.Trace(err)
		}
		return renderScores("Similarity", scores)
	},
}

func init() {
	recommendCommand.Flags().IntP("n", "n", 10, "number of recommendations")
	recommendCommand.Flags().Bool("exclude-rated", true, "skip items rated by the user")
	similarUsersCommand.Flags().IntP("n", "n", 3, "number of similar users")
	similarItemsCommand.Flags().IntP("n", "n", 4, "number of similar items")
	cliCommand.AddCommand(recommendCommand, similarUsersCommand, similarItemsCommand)
}
