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
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Train a model and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := train(cmd)
		if err != nil {
			return err
		}
		status := t.Status()
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Name", "Value")
		rows := [][]string{
			{"Users", fmt.Sprint(status.Users)},
			{"Items", fmt.Sprint(status.Items)},
			{"Ratings", fmt.Sprint(status.Ratings)},
			{"Requested Factors", fmt.Sprint(status.RequestedFactors)},
			{"Factors", fmt.Sprint(status.Factors)},
			{"Mean", fmt.Sprintf("%.4f", status.Mean)},
			{"Trained At", status.TrainedAt.Format(time.RFC3339)},
		}
		for _, row := range rows {
			if err = table.Append(row); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(table.Render())
	},
}

func init() {
	cliCommand.AddCommand(statusCommand)
}
