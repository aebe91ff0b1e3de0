package ml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultRetrainThreshold is the number of new readings that makes a model stale.
const DefaultRetrainThreshold = 50

// DefaultRetryBackoff is how long a failed training pass blocks automatic retries.
const DefaultRetryBackoff = 5 * time.Minute

// State is the lifecycle state of the manager.
type State string

const (
	StateUntrained State = "untrained"
	StateTrained   State = "trained"
)

// Training results reported to a TrainingObserver
const (
	TrainingSucceeded        = "success"
	TrainingInsufficientData = "insufficient_data"
	TrainingFailed           = "error"
)

// TrainingObserver is notified after every training pass.
type TrainingObserver interface {
	TrainingFinished(result string, took time.Duration, model *TrainedModel)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	RetrainThreshold int
	RetryBackoff     time.Duration
	Logger           logrus.FieldLogger
	Observer         TrainingObserver
	Now              func() time.Time
}

// Manager owns the active model. It trains on first use, retrains once
// RetrainThreshold readings have arrived since the last training pass, and
// lets at most one training pass run at a time. After a failed automatic
// pass it waits for RetryBackoff or another RetrainThreshold readings before
// trying again.
type Manager struct {
	history   History
	trainer   *Trainer
	store     ModelStore
	threshold int
	backoff   time.Duration
	log       logrus.FieldLogger
	observer  TrainingObserver
	now       func() time.Time

	model  atomic.Pointer[TrainedModel]
	flight singleflight.Group

	mu     sync.Mutex
	failed *failedAttempt
}

type failedAttempt struct {
	rows int
	at   time.Time
	err  error
}

// NewManager creates a manager and loads the persisted model, if any. A
// missing, corrupt or incompatible file leaves the manager untrained.
func NewManager(history History, trainer *Trainer, store ModelStore, cfg ManagerConfig) *Manager {
	if cfg.RetrainThreshold <= 0 {
		cfg.RetrainThreshold = DefaultRetrainThreshold
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	m := &Manager{
		history:   history,
		trainer:   trainer,
		store:     store,
		threshold: cfg.RetrainThreshold,
		backoff:   cfg.RetryBackoff,
		log:       cfg.Logger.WithField("component", "model-lifecycle"),
		observer:  cfg.Observer,
		now:       cfg.Now,
	}
	m.load()
	return m
}

func (m *Manager) load() {
	res := m.store.Load(m.trainer.Schema())
	switch res.Status {
	case LoadLoaded:
		m.model.Store(res.Model)
		m.log.WithFields(logrus.Fields{
			"model_id":   res.Model.ID,
			"checkpoint": res.Model.RowCount,
			"trained_at": res.Model.TrainedAt,
		}).Info("Loaded persisted model")
	case LoadUnset:
		m.log.Info("No persisted model, starting untrained")
	default:
		m.log.WithError(res.Err).WithField("status", res.Status.String()).
			Warn("Ignoring persisted model, starting untrained")
	}
}

// Current returns the active model, or nil when untrained.
func (m *Manager) Current() *TrainedModel {
	return m.model.Load()
}

// State reports whether a model is active.
func (m *Manager) State() State {
	if m.model.Load() == nil {
		return StateUntrained
	}
	return StateTrained
}

// Checkpoint returns the history length at the last training pass, 0 when untrained.
func (m *Manager) Checkpoint() int {
	if cur := m.model.Load(); cur != nil {
		return cur.RowCount
	}
	return 0
}

// EnsureModel returns a usable model, training one when untrained and
// retraining when the active model is stale. A failed stale retrain is logged
// and the active model keeps serving.
func (m *Manager) EnsureModel(ctx context.Context) (*TrainedModel, error) {
	current := m.model.Load()
	if current == nil {
		if n, err := m.history.Count(ctx); err == nil {
			if cause := m.retryBlocked(n); cause != nil {
				return nil, &ModelUnavailableError{Cause: cause}
			}
		}
		model, err := m.train(ctx, false)
		if err != nil {
			return nil, &ModelUnavailableError{Cause: err}
		}
		return model, nil
	}

	n, err := m.history.Count(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Staleness check failed, serving current model")
		return current, nil
	}
	if n-current.RowCount < m.threshold || m.retryBlocked(n) != nil {
		return current, nil
	}

	model, err := m.train(ctx, false)
	if err != nil {
		m.log.WithError(err).WithField("model_id", current.ID).
			Warn("Stale retrain failed, serving current model")
		return current, nil
	}
	return model, nil
}

// retryBlocked returns the last training error while automatic retries are
// on hold for a history of n readings, nil otherwise.
func (m *Manager) retryBlocked(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.failed
	if f == nil {
		return nil
	}
	if n-f.rows >= m.threshold || m.now().Sub(f.at) >= m.backoff {
		return nil
	}
	return f.err
}

func (m *Manager) recordAttempt(rows int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var insufficient *InsufficientDataError
	if err == nil || errors.As(err, &insufficient) {
		// too few rows is cheap to re-check and clears itself as readings arrive
		m.failed = nil
		return
	}
	m.failed = &failedAttempt{rows: rows, at: m.now(), err: err}
}

// Train runs a training pass regardless of staleness. When another pass is
// already running the caller waits for it and gets its result.
func (m *Manager) Train(ctx context.Context) (*TrainedModel, error) {
	return m.train(ctx, true)
}

func (m *Manager) stale(ctx context.Context, current *TrainedModel) (bool, error) {
	n, err := m.history.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count history: %w", err)
	}
	return n-current.RowCount >= m.threshold, nil
}

func (m *Manager) train(ctx context.Context, force bool) (*TrainedModel, error) {
	v, err, _ := m.flight.Do("train", func() (any, error) {
		// training always runs to completion once started
		ctx := context.WithoutCancel(ctx)

		if !force {
			if current := m.model.Load(); current != nil {
				if stale, err := m.stale(ctx, current); err == nil && !stale {
					return current, nil
				}
			}
		}
		return m.runTraining(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TrainedModel), nil
}

func (m *Manager) runTraining(ctx context.Context) (*TrainedModel, error) {
	start := time.Now()
	previous := m.Checkpoint()

	readings, err := m.history.Readings(ctx, Query{Order: Ascending})
	if err != nil {
		err = fmt.Errorf("read history: %w", err)
		m.finish(TrainingFailed, start, nil)
		if n, cerr := m.history.Count(ctx); cerr == nil {
			m.recordAttempt(n, err)
		} else {
			m.recordAttempt(previous, err)
		}
		return nil, err
	}

	model, err := m.trainer.Train(readings)
	m.recordAttempt(len(readings), err)
	if err != nil {
		var insufficient *InsufficientDataError
		if errors.As(err, &insufficient) {
			m.finish(TrainingInsufficientData, start, nil)
			m.log.WithField("rows", insufficient.Have).Info("Not enough readings to train")
		} else {
			m.finish(TrainingFailed, start, nil)
			m.log.WithError(err).Error("Training failed")
		}
		return nil, err
	}

	if err := m.store.Save(model); err != nil {
		m.recordAttempt(len(readings), err)
		m.finish(TrainingFailed, start, nil)
		m.log.WithError(err).Error("Trained model could not be persisted, keeping previous model")
		return nil, err
	}
	m.model.Store(model)
	m.finish(TrainingSucceeded, start, model)

	m.log.WithFields(logrus.Fields{
		"model_id":            model.ID,
		"rows":                model.RowCount,
		"previous_checkpoint": previous,
		"accuracy":            model.Metrics.Accuracy,
		"cv_mean_accuracy":    model.Metrics.CVMeanAccuracy,
		"took":                time.Since(start).Round(time.Millisecond),
	}).Info("Model trained")
	return model, nil
}

func (m *Manager) finish(result string, start time.Time, model *TrainedModel) {
	if m.observer != nil {
		m.observer.TrainingFinished(result, time.Since(start), model)
	}
}

// Status is a snapshot of the lifecycle for reporting.
type Status struct {
	State            State      `json:"state"`
	ModelID          string     `json:"model_id,omitempty"`
	Checkpoint       int        `json:"checkpoint"`
	RetrainThreshold int        `json:"retrain_threshold"`
	TrainedAt        *time.Time `json:"trained_at,omitempty"`
	FeatureSet       string     `json:"feature_set"`
	Features         []string   `json:"features"`
	Metrics          *Metrics   `json:"metrics,omitempty"`
}

// Status returns a snapshot of the active model.
func (m *Manager) Status() Status {
	schema := m.trainer.Schema()
	s := Status{
		State:            StateUntrained,
		RetrainThreshold: m.threshold,
		FeatureSet:       schema.Name,
		Features:         schema.Names(),
	}
	if cur := m.model.Load(); cur != nil {
		trainedAt := cur.TrainedAt
		metrics := cur.Metrics
		s.State = StateTrained
		s.ModelID = cur.ID
		s.Checkpoint = cur.RowCount
		s.TrainedAt = &trainedAt
		s.Metrics = &metrics
	}
	return s
}
