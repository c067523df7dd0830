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

package dataset

import (
	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrEmptyDataset is returned when observations contain no users or no items.
const ErrEmptyDataset = errors.ConstError("empty dataset")

// Observation is a single explicit rating of an item by a user.
type Observation struct {
	UserId    int64
	ItemId    int64
	Rating    float64
	Review    string
	Timestamp float64
}

// RatingMatrix is the dense user-item rating matrix. Unobserved entries are zero.
type RatingMatrix struct {
	R     *mat.Dense
	Users *Index
	Items *Index
	// Rated marks strictly positive entries of each row.
	Rated []*bitset.BitSet
}

// Build creates a rating matrix from observations. Duplicated user-item pairs
// are accepted and the last observation wins.
func Build(observations []Observation) (*RatingMatrix, error) {
	userSet := mapset.NewThreadUnsafeSet[int64]()
	itemSet := mapset.NewThreadUnsafeSet[int64]()
	for _, o := range observations {
		userSet.Add(o.UserId)
		itemSet.Add(o.ItemId)
	}
	if userSet.Cardinality() == 0 || itemSet.Cardinality() == 0 {
		return nil, errors.Annotatef(ErrEmptyDataset, "%d observations", len(observations))
	}
	users := NewIndex(userSet.ToSlice())
	items := NewIndex(itemSet.ToSlice())

	r := mat.NewDense(users.Len(), items.Len(), nil)
	for _, o := range observations {
		u, _ := users.ToIndex(o.UserId)
		i, _ := items.ToIndex(o.ItemId)
		r.Set(u, i, o.Rating)
	}

	rated := make([]*bitset.BitSet, users.Len())
	for u := range rated {
		rated[u] = bitset.New(uint(items.Len()))
		for i, v := range r.RawRowView(u) {
			if v > 0 {
				rated[u].Set(uint(i))
			}
		}
	}
	return &RatingMatrix{R: r, Users: users, Items: items, Rated: rated}, nil
}

// CountUsers returns the number of rows.
func (m *RatingMatrix) CountUsers() int {
	return m.Users.Len()
}

// CountItems returns the number of columns.
func (m *RatingMatrix) CountItems() int {
	return m.Items.Len()
}

// CountRatings returns the number of strictly positive entries.
func (m *RatingMatrix) CountRatings() int {
	n := 0
	for _, row := range m.Rated {
		n += int(row.Count())
	}
	return n
}

// IsRated reports whether user u has a positive rating on item i.
func (m *RatingMatrix) IsRated(u, i int) bool {
	return m.Rated[u].Test(uint(i))
}
