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
	"github.com/samber/lo"
)

// Score is an entity id with its predicted rating or similarity.
type Score struct {
	Id    int64   `json:"id"`
	Score float64 `json:"score"`
}

func toScores(elems []heap.Elem[int, float64], toID func(int) int64) []Score {
	return lo.Map(elems, func(e heap.Elem[int, float64], _ int) Score {
		return Score{Id: toID(e.Value), Score: e.Weight}
	})
}

// Recommend returns at most n items ranked by predicted rating for a user.
// Items rated by the user are skipped if excludeRated is set. Ties are broken
// by ascending item index.
func Recommend(model *cf.Model, userId int64, n int, excludeRated bool) ([]Score, error) {
	if model == nil {
		return nil, errors.Annotatef(cf.ErrUnknownUser, "user %d: model is not trained", userId)
	}
	u, err := model.UserIndex(userId)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Score{}, nil
	}
	filter := heap.NewTopKFilter[int, float64](n)
	for i, score := range model.Predictions.RawRowView(u) {
		if excludeRated && model.Rated[u].Test(uint(i)) {
			continue
		}
		filter.Push(i, score)
	}
	return toScores(filter.PopAll(), model.Items.ToID), nil
}

// Affinity returns the cosine similarity between the latent factors of a user
// and an item.
func Affinity(model *cf.Model, userId, itemId int64) (float64, error) {
	if model == nil {
		return 0, errors.Annotatef(cf.ErrUnknownUser, "user %d: model is not trained", userId)
	}
	u, err := model.UserIndex(userId)
	if err != nil {
		return 0, err
	}
	i, err := model.ItemIndex(itemId)
	if err != nil {
		return 0, err
	}
	return floats.Cosine(model.UserFactors.RawRowView(u), model.ItemFactors.RawRowView(i)), nil
}
