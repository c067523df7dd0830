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
	"github.com/gorse-io/svdrec/model/cf"
	"github.com/juju/errors"
)

// SimilarItems returns at most n items ranked by cosine similarity of latent
// factors. The query item is never included.
func SimilarItems(model *cf.Model, itemId int64, n int) ([]Score, error) {
	if model == nil {
		return nil, errors.Annotatef(cf.ErrUnknownItem, "item %d: model is not trained", itemId)
	}
	i, err := model.ItemIndex(itemId)
	if err != nil {
		return nil, err
	}
	return toScores(neighbors(model.ItemFactors, i, n), model.Items.ToID), nil
}
