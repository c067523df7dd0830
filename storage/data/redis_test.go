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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorse-io/svdrec/storage"
	"github.com/stretchr/testify/suite"
)

type RedisTestSuite struct {
	baseTestSuite
	server *miniredis.Miniredis
}

func (suite *RedisTestSuite) SetupSuite() {
	var err error
	suite.server, err = miniredis.Run()
	suite.Require().NoError(err)
	suite.Database, err = Open(storage.RedisPrefix+suite.server.Addr(), "svd_")
	suite.Require().NoError(err)
}

func (suite *RedisTestSuite) TearDownSuite() {
	suite.NoError(suite.Database.Close())
	suite.server.Close()
}

func (suite *RedisTestSuite) TestKeys() {
	ctx := context.Background()
	suite.NoError(suite.Database.BatchInsertRatings(ctx, []Rating{{UserId: 7, ItemId: 8, Rating: 3}}))
	suite.True(suite.server.Exists("svd_ratings"))
	suite.True(suite.server.Exists("svd_user_ratings/7"))
	suite.True(suite.server.Exists("svd_item_ratings/8"))
}

func TestRedis(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}
