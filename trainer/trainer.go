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
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/svdrec/base/log"
	"github.com/gorse-io/svdrec/common/util"
	"github.com/gorse-io/svdrec/config"
	"github.com/gorse-io/svdrec/dataset"
	"github.com/gorse-io/svdrec/model/cf"
	"github.com/gorse-io/svdrec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const batchSize = 1024

// Status describes the current snapshot.
type Status struct {
	Trained          bool      `json:"trained"`
	Version          uint64    `json:"version"`
	Policy           string    `json:"policy"`
	Users            int       `json:"users"`
	Items            int       `json:"items"`
	Ratings          int       `json:"ratings"`
	RequestedFactors int       `json:"requested_factors"`
	Factors          int       `json:"factors"`
	Mean             float64   `json:"mean"`
	TrainedAt        time.Time `json:"trained_at"`
	LastError        string    `json:"last_error,omitempty"`
}

// Trainer owns the published model. Readers load the current snapshot without
// locking while a retrain builds the next one; a failed retrain keeps the
// previous snapshot.
type Trainer struct {
	database data.Database
	config   config.ModelConfig
	training config.TrainingConfig

	model   atomic.Pointer[cf.Model]
	version atomic.Uint64
	lastErr atomic.Error
	fitMu   sync.Mutex
	tracer  trace.Tracer

	scheduled chan struct{}
}

func NewTrainer(database data.Database, cfg *config.Config) *Trainer {
	return &Trainer{
		database:  database,
		config:    cfg.Model,
		training:  cfg.Training,
		tracer:    otel.Tracer("trainer"),
		scheduled: make(chan struct{}, 1),
	}
}

// Model returns the current snapshot, or nil before the first successful fit.
func (t *Trainer) Model() *cf.Model {
	return t.model.Load()
}

// Retrain loads all ratings and publishes a new snapshot.
func (t *Trainer) Retrain(ctx context.Context) error {
	t.fitMu.Lock()
	defer t.fitMu.Unlock()
	ctx, span := t.tracer.Start(ctx, "retrain")
	defer span.End()

	start := time.Now()
	model, err := t.fit(ctx)
	FitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		FitTotal.WithLabelValues(StatusFailure).Inc()
		t.lastErr.Store(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Logger().Error("failed to retrain model", zap.Error(err))
		return errors.Trace(err)
	}
	FitTotal.WithLabelValues(StatusSuccess).Inc()
	t.lastErr.Store(nil)

	model = model.WithVersion(t.version.Inc())
	t.model.Store(model)
	NumUsers.Set(float64(model.CountUsers()))
	NumItems.Set(float64(model.CountItems()))
	NumRatings.Set(float64(model.CountRatings()))
	NumFactors.Set(float64(model.Factors))
	GlobalMean.Set(model.Mean)
	SnapshotVersion.Set(float64(model.Version))
	span.SetAttributes(
		attribute.Int64("version", int64(model.Version)),
		attribute.Int("users", model.CountUsers()),
		attribute.Int("items", model.CountItems()),
	)
	log.Logger().Info("publish model",
		zap.Uint64("version", model.Version),
		zap.Int("n_users", model.CountUsers()),
		zap.Int("n_items", model.CountItems()),
		zap.Int("n_factors", model.Factors),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (t *Trainer) fit(ctx context.Context) (*cf.Model, error) {
	observations, err := t.loadObservations(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	matrix, err := dataset.Build(observations)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return cf.Fit(matrix, t.config.NFactors,
		cf.WithMaxUsers(t.config.MaxUsers),
		cf.WithMaxItems(t.config.MaxItems),
		cf.WithMaxFactors(t.config.MaxFactors))
}

func (t *Trainer) loadObservations(ctx context.Context) ([]dataset.Observation, error) {
	var observations []dataset.Observation
	ratings, errChan := t.database.GetRatingStream(ctx, batchSize)
	for batch := range ratings {
		observations = append(observations, lo.Map(batch, func(r data.Rating, _ int) dataset.Observation {
			return dataset.Observation{
				UserId:    r.UserId,
				ItemId:    r.ItemId,
				Rating:    r.Rating,
				Review:    r.Review,
				Timestamp: r.Timestamp,
			}
		})...)
	}
	if err := <-errChan; err != nil {
		return nil, errors.Trace(err)
	}
	return observations, nil
}

// permanent reports whether retrying cannot help. An unset data store never
// becomes reachable.
func permanent(err error) bool {
	return errors.Is(err, data.ErrNoDatabase) ||
		errors.Is(err, cf.ErrEmptyDataset) ||
		errors.Is(err, cf.ErrFactorization) ||
		errors.Is(err, cf.ErrResourceLimit)
}

// RetrainWithRetry retries the first training while the data store is not
// reachable, giving up after training.retry_max_elapsed.
func (t *Trainer) RetrainWithRetry(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := t.Retrain(ctx); err != nil {
			if permanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(t.training.RetryMaxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Logger().Warn("retry training", zap.Error(err), zap.Duration("after", d))
		}))
	return errors.Trace(err)
}

// OnRatingsChanged applies the retrain policy after ratings are written.
func (t *Trainer) OnRatingsChanged(ctx context.Context) error {
	switch t.training.Policy {
	case config.PolicySync:
		return t.Retrain(ctx)
	case config.PolicyAsync:
		t.Schedule()
	}
	return nil
}

// Schedule requests a background retrain. Requests made while one is pending
// are coalesced.
func (t *Trainer) Schedule() {
	select {
	case t.scheduled <- struct{}{}:
	default:
	}
}

// Run retrains on schedule requests and on the fit period until ctx is done.
func (t *Trainer) Run(ctx context.Context) {
	defer util.CheckPanic()
	var tick <-chan time.Time
	if t.training.FitPeriod > 0 {
		ticker := time.NewTicker(t.training.FitPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-t.scheduled:
		}
		_ = t.Retrain(ctx)
	}
}

func (t *Trainer) Status() Status {
	status := Status{Policy: t.training.Policy}
	if err := t.lastErr.Load(); err != nil {
		status.LastError = err.Error()
	}
	model := t.model.Load()
	if model == nil {
		return status
	}
	status.Trained = true
	status.Version = model.Version
	status.Users = model.CountUsers()
	status.Items = model.CountItems()
	status.Ratings = model.CountRatings()
	status.RequestedFactors = model.RequestedFactors
	status.Factors = model.Factors
	status.Mean = model.Mean
	status.TrainedAt = model.TrainedAt
	return status
}
