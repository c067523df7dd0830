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
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/common/floats"
	"github.com/gorse-io/svdrec/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

type fitOptions struct {
	maxUsers   int
	maxItems   int
	maxFactors int
}

// Option limits the size of a factorization. Zero means unlimited.
type Option func(*fitOptions)

func WithMaxUsers(n int) Option {
	return func(o *fitOptions) { o.maxUsers = n }
}

func WithMaxItems(n int) Option {
	return func(o *fitOptions) { o.maxItems = n }
}

func WithMaxFactors(n int) Option {
	return func(o *fitOptions) { o.maxFactors = n }
}

// Model is a truncated SVD of the mean-centered rating matrix. A model is
// never modified after Fit returns.
type Model struct {
	R              *mat.Dense
	Mean           float64
	Centered       *mat.Dense
	UserFactors    *mat.Dense // users x k
	ItemFactors    *mat.Dense // items x k
	SingularValues []float64  // descending
	Predictions    *mat.Dense // users x items
	Users          *dataset.Index
	Items          *dataset.Index
	Rated          []*bitset.BitSet

	RequestedFactors int
	Factors          int
	Version          uint64
	TrainedAt        time.Time
}

// EffectiveFactors returns the rank actually used for a matrix of the given shape.
func EffectiveFactors(k, users, items int) int {
	return max(1, min(k, min(users, items)-1))
}

// Fit factorizes a rating matrix into k latent factors.
func Fit(m *dataset.RatingMatrix, k int, opts ...Option) (*Model, error) {
	var o fitOptions
	for _, opt := range opts {
		opt(&o)
	}
	nUsers, nItems := m.R.Dims()
	if nUsers != m.Users.Len() || nItems != m.Items.Len() {
		return nil, errors.Errorf("rating matrix is %dx%d but indices have %d users and %d items",
			nUsers, nItems, m.Users.Len(), m.Items.Len())
	}
	if o.maxUsers > 0 && nUsers > o.maxUsers {
		return nil, errors.Annotatef(ErrResourceLimit, "%d users exceed limit %d", nUsers, o.maxUsers)
	}
	if o.maxItems > 0 && nItems > o.maxItems {
		return nil, errors.Annotatef(ErrResourceLimit, "%d items exceed limit %d", nItems, o.maxItems)
	}
	if o.maxFactors > 0 && k > o.maxFactors {
		return nil, errors.Annotatef(ErrResourceLimit, "%d factors exceed limit %d", k, o.maxFactors)
	}
	if min(nUsers, nItems) < 2 {
		return nil, errors.Annotatef(ErrFactorization, "matrix of %dx%d is too small", nUsers, nItems)
	}

	// mean of observed ratings
	mean, count := floats.PositiveMean(m.R.RawMatrix().Data)
	if count == 0 {
		return nil, errors.Annotatef(ErrEmptyDataset, "no positive ratings")
	}
	centered := mat.DenseCopyOf(m.R)
	centered.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v - mean
		}
		return v
	}, centered)

	kEff := EffectiveFactors(k, nUsers, nItems)
	log.Logger().Info("fit svd",
		zap.Int("n_users", nUsers),
		zap.Int("n_items", nItems),
		zap.Int("n_ratings", count),
		zap.Int("n_factors", k),
		zap.Int("effective_factors", kEff))

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, errors.Annotatef(ErrFactorization, "svd of %dx%d did not converge", nUsers, nItems)
	}
	values := svd.Values(nil)[:kEff]
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	userFactors := mat.DenseCopyOf(u.Slice(0, nUsers, 0, kEff))
	itemFactors := mat.DenseCopyOf(v.Slice(0, nItems, 0, kEff))

	// predictions = mean + A S B^T
	var scaled, predictions mat.Dense
	scaled.Mul(userFactors, mat.NewDiagDense(kEff, values))
	predictions.Mul(&scaled, itemFactors.T())
	predictions.Apply(func(_, _ int, v float64) float64 {
		return v + mean
	}, &predictions)

	return &Model{
		R:                m.R,
		Mean:             mean,
		Centered:         centered,
		UserFactors:      userFactors,
		ItemFactors:      itemFactors,
		SingularValues:   values,
		Predictions:      &predictions,
		Users:            m.Users,
		Items:            m.Items,
		Rated:            m.Rated,
		RequestedFactors: k,
		Factors:          kEff,
		TrainedAt:        time.Now(),
	}, nil
}

func (model *Model) CountUsers() int {
	return model.Users.Len()
}

func (model *Model) CountItems() int {
	return model.Items.Len()
}

// CountRatings returns the number of observed ratings.
func (model *Model) CountRatings() int {
	n := 0
	for _, row := range model.Rated {
		n += int(row.Count())
	}
	return n
}

// UserIndex returns the row of a user or ErrUnknownUser.
func (model *Model) UserIndex(userId int64) (int, error) {
	u, ok := model.Users.ToIndex(userId)
	if !ok {
		return 0, errors.Annotatef(ErrUnknownUser, "user %d", userId)
	}
	return u, nil
}

// ItemIndex returns the column of an item or ErrUnknownItem.
func (model *Model) ItemIndex(itemId int64) (int, error) {
	i, ok := model.Items.ToIndex(itemId)
	if !ok {
		return 0, errors.Annotatef(ErrUnknownItem, "item %d", itemId)
	}
	return i, nil
}

// Predict returns the predicted rating of a user on an item.
func (model *Model) Predict(userId, itemId int64) (float64, error) {
	u, err := model.UserIndex(userId)
	if err != nil {
		return 0, err
	}
	i, err := model.ItemIndex(itemId)
	if err != nil {
		return 0, err
	}
	return model.Predictions.At(u, i), nil
}

// WithVersion returns a shallow copy of the model stamped with a version.
func (model *Model) WithVersion(version uint64) *Model {
	cp := *model
	cp.Version = version
	return &cp
}
