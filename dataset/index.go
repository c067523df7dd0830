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
	"slices"
)

// Index manages the map between sparse ids and dense indices. A sparse id is
// a user id or item id. The dense index is the row or column of the rating
// matrix. Dense indices follow the ascending order of sparse ids.
type Index struct {
	numbers map[int64]int // sparse id -> dense index
	ids     []int64       // dense index -> sparse id
}

// NewIndex creates an index from ids. Duplicated ids are merged.
func NewIndex(ids []int64) *Index {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	idx := &Index{
		numbers: make(map[int64]int, len(sorted)),
		ids:     sorted,
	}
	for i, id := range sorted {
		idx.numbers[id] = i
	}
	return idx
}

// Len returns the number of indexed ids.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.ids)
}

// ToIndex converts a sparse id to a dense index.
func (idx *Index) ToIndex(id int64) (int, bool) {
	if idx == nil {
		return 0, false
	}
	i, ok := idx.numbers[id]
	return i, ok
}

// ToID converts a dense index to a sparse id.
func (idx *Index) ToID(i int) int64 {
	return idx.ids[i]
}

// IDs returns all sparse ids in ascending order.
func (idx *Index) IDs() []int64 {
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.ids)
}
