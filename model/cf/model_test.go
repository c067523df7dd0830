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

package cf

import (
	"testing"

	"github.com/gorse-io/svdrec/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/mat"
)

const delta = 1e-9

func build(t *testing.T, observations ...dataset.Observation) *dataset.RatingMatrix {
	m, err := dataset.Build(observations)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

type ModelTestSuite struct {
	suite.Suite
	model *Model
}

func (suite *ModelTestSuite) SetupTest() {
	m := build(suite.T(),
		dataset.Observation{UserId: 1, ItemId: 1, Rating: 5},
		dataset.Observation{UserId: 1, ItemId: 2, Rating: 3},
		dataset.Observation{UserId: 2, ItemId: 1, Rating: 4},
		dataset.Observation{UserId: 2, ItemId: 2, Rating: 5},
		dataset.Observation{UserId: 3, ItemId: 1, Rating: 2},
	)
	var err error
	suite.model, err = Fit(m, 2)
	suite.NoError(err)
}

func (suite *ModelTestSuite) TestMean() {
	suite.InDelta(3.8, suite.model.Mean, delta)
}

func (suite *ModelTestSuite) TestCentered() {
	// unobserved entries stay zero
	suite.Equal(0.0, suite.model.Centered.At(2, 1))
	suite.InDelta(5-3.8, suite.model.Centered.At(0, 0), delta)
	suite.InDelta(2-3.8, suite.model.Centered.At(2, 0), delta)
}

func (suite *ModelTestSuite) TestShapes() {
	suite.Equal(2, suite.model.RequestedFactors)
	suite.Equal(1, suite.model.Factors)
	r, c := suite.model.UserFactors.Dims()
	suite.Equal([]int{3, 1}, []int{r, c})
	r, c = suite.model.ItemFactors.Dims()
	suite.Equal([]int{2, 1}, []int{r, c})
	r, c = suite.model.Predictions.Dims()
	suite.Equal([]int{3, 2}, []int{r, c})
	suite.Len(suite.model.SingularValues, 1)
	suite.Equal(3, suite.model.CountUsers())
	suite.Equal(2, suite.model.CountItems())
	suite.Equal(5, suite.model.CountRatings())
}

func (suite *ModelTestSuite) TestPredict() {
	var scaled, expected mat.Dense
	scaled.Mul(suite.model.UserFactors, mat.NewDiagDense(1, suite.model.SingularValues))
	expected.Mul(&scaled, suite.model.ItemFactors.T())
	for u := 0; u < 3; u++ {
		for i := 0; i < 2; i++ {
			suite.InDelta(suite.model.Mean+expected.At(u, i), suite.model.Predictions.At(u, i), delta)
		}
	}
	score, err := suite.model.Predict(3, 2)
	suite.NoError(err)
	suite.Equal(suite.model.Predictions.At(2, 1), score)
	_, err = suite.model.Predict(4, 1)
	suite.True(errors.Is(err, ErrUnknownUser))
	_, err = suite.model.Predict(1, 3)
	suite.True(errors.Is(err, ErrUnknownItem))
}

func (suite *ModelTestSuite) TestWithVersion() {
	stamped := suite.model.WithVersion(7)
	suite.Equal(uint64(7), stamped.Version)
	suite.Zero(suite.model.Version)
	suite.Same(suite.model.Predictions, stamped.Predictions)
}

func TestModel(t *testing.T) {
	suite.Run(t, new(ModelTestSuite))
}

func TestMeanIgnoresUnrated(t *testing.T) {
	m := build(t,
		dataset.Observation{UserId: 1, ItemId: 1, Rating: 3},
		dataset.Observation{UserId: 2, ItemId: 2, Rating: 4},
		dataset.Observation{UserId: 3, ItemId: 1, Rating: 5},
	)
	model, err := Fit(m, 10)
	assert.NoError(t, err)
	assert.InDelta(t, 4.0, model.Mean, delta)
}

func TestReconstructRankOne(t *testing.T) {
	// centered matrix [[1,2],[-1,-2]] has rank one
	m := build(t,
		dataset.Observation{UserId: 1, ItemId: 1, Rating: 4},
		dataset.Observation{UserId: 1, ItemId: 2, Rating: 5},
		dataset.Observation{UserId: 2, ItemId: 1, Rating: 2},
		dataset.Observation{UserId: 2, ItemId: 2, Rating: 1},
	)
	model, err := Fit(m, 5)
	assert.NoError(t, err)
	assert.Equal(t, 1, model.Factors)
	assert.InDelta(t, 3.0, model.Mean, delta)
	assert.True(t, mat.EqualApprox(m.R, model.Predictions, 1e-9))
}

func TestSingularValuesDescending(t *testing.T) {
	var observations []dataset.Observation
	for u := int64(0); u < 6; u++ {
		for i := int64(0); i < 5; i++ {
			if (u+i)%3 != 0 {
				observations = append(observations, dataset.Observation{
					UserId: u, ItemId: i, Rating: float64((u*7+i*3)%5 + 1),
				})
			}
		}
	}
	model, err := Fit(build(t, observations...), 3)
	assert.NoError(t, err)
	assert.Equal(t, 3, model.Factors)
	assert.Len(t, model.SingularValues, 3)
	for i := 1; i < len(model.SingularValues); i++ {
		assert.GreaterOrEqual(t, model.SingularValues[i-1], model.SingularValues[i])
	}
	for _, s := range model.SingularValues {
		assert.GreaterOrEqual(t, s, 0.0)
	}
	// columns of user factors are orthonormal
	var gram mat.Dense
	gram.Mul(model.UserFactors.T(), model.UserFactors)
	assert.True(t, mat.EqualApprox(&gram, identity(3), 1e-9))
}

func TestEffectiveFactors(t *testing.T) {
	assert.Equal(t, 1, EffectiveFactors(2, 3, 2))
	assert.Equal(t, 4, EffectiveFactors(10, 5, 8))
	assert.Equal(t, 3, EffectiveFactors(3, 10, 10))
	assert.Equal(t, 1, EffectiveFactors(0, 10, 10))
}

func TestFactorizationError(t *testing.T) {
	_, err := Fit(build(t, dataset.Observation{UserId: 1, ItemId: 1, Rating: 5}), 2)
	assert.True(t, errors.Is(err, ErrFactorization))

	_, err = Fit(build(t,
		dataset.Observation{UserId: 1, ItemId: 1, Rating: 5},
		dataset.Observation{UserId: 1, ItemId: 2, Rating: 4},
		dataset.Observation{UserId: 1, ItemId: 3, Rating: 3},
	), 2)
	assert.True(t, errors.Is(err, ErrFactorization))
}

func TestResourceLimit(t *testing.T) {
	m := build(t,
		dataset.Observation{UserId: 1, ItemId: 1, Rating: 5},
		dataset.Observation{UserId: 2, ItemId: 2, Rating: 4},
		dataset.Observation{UserId: 3, ItemId: 3, Rating: 3},
	)
	_, err := Fit(m, 2, WithMaxUsers(2))
	assert.True(t, errors.Is(err, ErrResourceLimit))
	_, err = Fit(m, 2, WithMaxItems(2))
	assert.True(t, errors.Is(err, ErrResourceLimit))
	_, err = Fit(m, 20, WithMaxFactors(10))
	assert.True(t, errors.Is(err, ErrResourceLimit))
	_, err = Fit(m, 2, WithMaxUsers(3), WithMaxItems(3), WithMaxFactors(2))
	assert.NoError(t, err)
}

func TestNoPositiveRatings(t *testing.T) {
	m := build(t,
		dataset.Observation{UserId: 1, ItemId: 1, Rating: 0},
		dataset.Observation{UserId: 2, ItemId: 2, Rating: 0},
	)
	_, err := Fit(m, 2)
	assert.True(t, errors.Is(err, ErrEmptyDataset))
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
