// Copyright 2020 gorse Project Authors
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

package floats

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Dot two vectors.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	return floats.Dot(a, b)
}

// Norm returns the euclidean norm of a vector.
func Norm(a []float64) float64 {
	return floats.Norm(a, 2)
}

// Cosine returns the cosine similarity between two vectors. The similarity is
// zero if either vector has zero norm.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	normA, normB := Norm(a), Norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

// PositiveMean returns the average of entries strictly greater than zero.
func PositiveMean(a []float64) (mean float64, count int) {
	var sum float64
	for _, v := range a {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return math.NaN(), 0
	}
	return sum / float64(count), count
}
