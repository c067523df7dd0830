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

package logics

import (
	"github.com/gorse-io/svdrec/common/floats"
	"github.com/gorse-io/svdrec/common/heap"
	"github.com/gorse-io/svdrec/model/cf"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// SimilarUsers returns at most n users ranked by cosine similarity of latent
// factors. The query user is never included.
func SimilarUsers(model *cf.Model, userId int64, n int) ([]Score, error) {
	if model == nil {
		return nil, errors.Annotatef(cf.ErrUnknownUser, "user %d: model is not trained", userId)
	}
	u, err := model.UserIndex(userId)
	if err != nil {
		return nil, err
	}
	return toScores(neighbors(model.UserFactors, u, n), model.Users.ToID), nil
}

// neighbors ranks rows of factors by cosine similarity to row q.
func neighbors(factors *mat.Dense, q, n int) []heap.Elem[int, float64] {
	if n <= 0 {
		return nil
	}
	rows, _ := factors.Dims()
	query := factors.RawRowView(q)
	filter := heap.NewTopKFilter[int, float64](n)
	for j := 0; j < rows; j++ {
		if j == q {
			continue
		}
		filter.Push(j, floats.Cosine(query, factors.RawRowView(j)))
	}
	return filter.PopAll()
}
