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

	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/cmd/version"
	"github.com/gorse-io/svdrec/config"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/gorse-io/svdrec/trainer"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	globalConfig *config.Config
	database     data.Database
)

var cliCommand = &cobra.Command{
	Use:   "svdrec-cli",
	Short: "CLI for the latent factor recommender",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCommand {
			return nil
		}
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), "svdrec-cli", debug)
		// load cli config
		configPath, _ := cmd.Flags().GetString("config")
		var err error
		if globalConfig, err = config.LoadConfig(configPath); err != nil {
			return errors.Annotatef(err, "failed to load config from %v", configPath)
		}
		if globalConfig.Database.DataStore == "" {
			return errors.NotAssignedf("data store")
		}
		// open database
		if database, err = data.Open(globalConfig.Database.DataStore, globalConfig.Database.DataTablePrefix); err != nil {
			return errors.Annotatef(err, "failed to connect %v", log.RedactDBURL(globalConfig.Database.DataStore))
		}
		return errors.Trace(database.Init())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if database != nil {
			if err := database.Close(); err != nil {
				log.Logger().Error("failed to close database", zap.Error(err))
			}
		}
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Check the version of svdrec",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.Get())
	},
}

// train fits a model from the data store in process.
func train(cmd *cobra.Command) (*trainer.Trainer, error) {
	t := trainer.NewTrainer(database, globalConfig)
	if err := t.Retrain(cmd.Context()); err != nil {
		return nil, errors.Trace(err)
	}
	return t, nil
}

func init() {
	cliCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	cliCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(cliCommand.PersistentFlags())
	cliCommand.AddCommand(versionCommand)
}

func main() {
	if err := cliCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
