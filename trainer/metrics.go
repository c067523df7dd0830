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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelStatus   = "status"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	FitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "fit_seconds",
	})
	FitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "fit_total",
	}, []string{LabelStatus})
	NumUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "num_users",
	})
	NumItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "num_items",
	})
	NumRatings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "num_ratings",
	})
	NumFactors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "num_factors",
	})
	GlobalMean = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "global_mean",
	})
	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "svdrec",
		Subsystem: "trainer",
		Name:      "snapshot_version",
	})
)
