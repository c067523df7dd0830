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

package trainer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorse-io/svdrec/config"
	"github.com/gorse-io/svdrec/model/cf"
	"github.com/gorse-io/svdrec/storage"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type TrainerTestSuite struct {
	suite.Suite
	server   *miniredis.Miniredis
	database data.Database
	config   *config.Config
}

func (suite *TrainerTestSuite) SetupSuite() {
	var err error
	suite.server, err = miniredis.Run()
	suite.Require().NoError(err)
	suite.database, err = data.Open(storage.RedisPrefix+suite.server.Addr(), "")
	suite.Require().NoError(err)
}

func (suite *TrainerTestSuite) TearDownSuite() {
	suite.NoError(suite.database.Close())
	suite.server.Close()
}

func (suite *TrainerTestSuite) SetupTest() {
	suite.NoError(suite.database.Init())
	suite.NoError(suite.database.Purge())
	suite.config = config.GetDefaultConfig()
	suite.config.Model.NFactors = 2
}

func (suite *TrainerTestSuite) insertRatings() {
	err := suite.database.BatchInsertRatings(context.Background(), []data.Rating{
		{UserId: 1, ItemId: 10, Rating: 5},
		{UserId: 1, ItemId: 20, Rating: 3},
		{UserId: 2, ItemId: 10, Rating: 4},
		{UserId: 3, ItemId: 20, Rating: 1},
		{UserId: 3, ItemId: 30, Rating: 2},
	})
	suite.NoError(err)
}

func (suite *TrainerTestSuite) TestRetrainEmpty() {
	trainer := NewTrainer(suite.database, suite.config)
	err := trainer.Retrain(context.Background())
	suite.True(errors.Is(err, cf.ErrEmptyDataset), err)
	suite.Nil(trainer.Model())
	status := trainer.Status()
	suite.False(status.Trained)
	suite.NotEmpty(status.LastError)
	suite.Equal(config.PolicySync, status.Policy)
}

func (suite *TrainerTestSuite) TestRetrain() {
	suite.insertRatings()
	trainer := NewTrainer(suite.database, suite.config)
	suite.NoError(trainer.Retrain(context.Background()))
	model := trainer.Model()
	suite.NotNil(model)
	suite.Equal(uint64(1), model.Version)
	suite.Equal(3, model.CountUsers())
	suite.Equal(3, model.CountItems())
	suite.Equal(5, model.CountRatings())
	suite.Equal(2, model.Factors)
	suite.InDelta(3.0, model.Mean, 1e-9)

	status := trainer.Status()
	suite.True(status.Trained)
	suite.Equal(uint64(1), status.Version)
	suite.Equal(2, status.RequestedFactors)
	suite.Empty(status.LastError)

	// retrain publishes a new version
	suite.NoError(trainer.Retrain(context.Background()))
	suite.Equal(uint64(2), trainer.Model().Version)
	suite.Equal(uint64(1), model.Version)

	// a failed retrain keeps the previous snapshot
	suite.NoError(suite.database.Purge())
	suite.Error(trainer.Retrain(context.Background()))
	suite.Equal(uint64(2), trainer.Model().Version)
	suite.NotEmpty(trainer.Status().LastError)
}

func (suite *TrainerTestSuite) TestResourceLimit() {
	suite.insertRatings()
	suite.config.Model.MaxUsers = 2
	trainer := NewTrainer(suite.database, suite.config)
	err := trainer.RetrainWithRetry(context.Background())
	suite.True(errors.Is(err, cf.ErrResourceLimit), err)
	suite.Nil(trainer.Model())
}

func (suite *TrainerTestSuite) TestSyncPolicy() {
	trainer := NewTrainer(suite.database, suite.config)
	suite.insertRatings()
	suite.NoError(trainer.OnRatingsChanged(context.Background()))
	suite.NotNil(trainer.Model())
}

func (suite *TrainerTestSuite) TestAsyncPolicy() {
	suite.config.Training.Policy = config.PolicyAsync
	trainer := NewTrainer(suite.database, suite.config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trainer.Run(ctx)

	suite.insertRatings()
	suite.NoError(trainer.OnRatingsChanged(ctx))
	suite.Eventually(func() bool {
		return trainer.Model() != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func (suite *TrainerTestSuite) TestPeriodicPolicy() {
	suite.config.Training.Policy = config.PolicyPeriodic
	suite.config.Training.FitPeriod = 20 * time.Millisecond
	trainer := NewTrainer(suite.database, suite.config)
	suite.insertRatings()
	suite.NoError(trainer.OnRatingsChanged(context.Background()))
	suite.Nil(trainer.Model())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trainer.Run(ctx)
	suite.Eventually(func() bool {
		return trainer.Model() != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTrainer(t *testing.T) {
	suite.Run(t, new(TrainerTestSuite))
}

func TestRetrainWithRetry(t *testing.T) {
	// no data store: give up at once even without an elapsed bound
	cfg := config.GetDefaultConfig()
	cfg.Training.RetryMaxElapsed = 0
	trainer := NewTrainer(data.NoDatabase{}, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	err := trainer.RetrainWithRetry(ctx)
	assert.True(t, errors.Is(err, data.ErrNoDatabase), err)
	assert.NoError(t, ctx.Err())
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, trainer.Model())
}

func TestRetrainWithRetryUnreachable(t *testing.T) {
	server, err := miniredis.Run()
	assert.NoError(t, err)
	database, err := data.Open(storage.RedisPrefix+server.Addr(), "")
	assert.NoError(t, err)
	server.Close()

	cfg := config.GetDefaultConfig()
	cfg.Training.RetryMaxElapsed = 300 * time.Millisecond
	trainer := NewTrainer(database, cfg)
	start := time.Now()
	err = trainer.RetrainWithRetry(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, data.ErrNoDatabase))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Nil(t, trainer.Model())
}

func TestSchedule(t *testing.T) {
	trainer := NewTrainer(data.NoDatabase{}, config.GetDefaultConfig())
	trainer.Schedule()
	trainer.Schedule()
	assert.Len(t, trainer.scheduled, 1)
}
