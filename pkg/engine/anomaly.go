package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/metrics"
)

// scaler standardizes feature vectors to zero mean and unit variance using
// the statistics of the training set.
type scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitScaler(samples [][]float64) *scaler {
	n := len(samples)
	dim := len(samples[0])
	s := &scaler{Mean: make([]float64, dim), Std: make([]float64, dim)}

	for _, v := range samples {
		for i := 0; i < dim; i++ {
			s.Mean[i] += v[i]
		}
	}
	for i := range s.Mean {
		s.Mean[i] /= float64(n)
	}
	for _, v := range samples {
		for i := 0; i < dim; i++ {
			d := v[i] - s.Mean[i]
			s.Std[i] += d * d
		}
	}
	for i := range s.Std {
		s.Std[i] = math.Sqrt(s.Std[i] / float64(n))
	}
	return s
}

func (s *scaler) transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("feature dimension %d does not match scaler dimension %d", len(v), len(s.Mean))
	}
	out := make([]float64, len(v))
	for i, x := range v {
		if s.Std[i] == 0 {
			out[i] = 0
			continue
		}
		out[i] = (x - s.Mean[i]) / s.Std[i]
	}
	return out, nil
}

// outlierModel scores a standardized vector by its mean absolute z-distance
// from the training distribution. trainSpread is the mean distance observed
// over the training set; scores are normalized relative to it so a point
// sitting inside the training mass maps near 0 and a far outlier approaches 1.
type outlierModel struct {
	TrainSpread float64 `json:"train_spread"`
}

func fitOutlierModel(standardized [][]float64) *outlierModel {
	var total float64
	for _, v := range standardized {
		total += meanAbs(v)
	}
	spread := total / float64(len(standardized))
	if spread == 0 {
		spread = 1
	}
	return &outlierModel{TrainSpread: spread}
}

// score maps the raw distance to [0,1], larger meaning more anomalous.
func (m *outlierModel) score(standardized []float64) float64 {
	d := meanAbs(standardized)
	excess := d - m.TrainSpread
	if excess <= 0 {
		return 0
	}
	// Saturating map: one spread above normal ~0.26, three ~0.63, far tail → 1.
	return 1 - math.Exp(-excess/(3*m.TrainSpread))
}

func meanAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += math.Abs(x)
	}
	return sum / float64(len(v))
}

// modelArtifact is the serialized form of a trained model, written to the
// models directory so a restart resumes scoring immediately.
type modelArtifact struct {
	Scaler              *scaler       `json:"scaler"`
	Model               *outlierModel `json:"model"`
	LastTraining        time.Time     `json:"last_training"`
	TrainingSampleCount int           `json:"training_sample_count"`
}

const modelFileName = "anomaly_model.json"

// AnomalyScorer holds the trainable outlier model plus its sample buffer.
// Scoring reads the current model under a short lock; retraining builds the
// replacement outside the lock and swaps it in whole.
type AnomalyScorer struct {
	mu           sync.RWMutex
	scaler       *scaler
	model        *outlierModel
	lastTraining time.Time
	sampleCount  int

	bufMu      sync.Mutex
	buffer     [][]float64
	bufferSize int

	minSamples int
	modelsPath string
	logger     zerolog.Logger
}

// NewAnomalyScorer creates an untrained scorer. bufferSize bounds the sample
// buffer (default 1000); minSamples is the minimum buffer fill before a
// retrain is attempted (default 50).
func NewAnomalyScorer(modelsPath string, bufferSize, minSamples int, logger zerolog.Logger) *AnomalyScorer {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if minSamples <= 0 {
		minSamples = 50
	}
	return &AnomalyScorer{
		bufferSize: bufferSize,
		minSamples: minSamples,
		modelsPath: modelsPath,
		logger:     logger.With().Str("component", "anomaly_scorer").Logger(),
	}
}

// Trained reports whether a model is available for scoring.
func (a *AnomalyScorer) Trained() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model != nil
}

// LastTraining returns when the current model was trained.
func (a *AnomalyScorer) LastTraining() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastTraining
}

// Record adds a feature vector to the training buffer.
func (a *AnomalyScorer) Record(features []float64) {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	a.buffer = append(a.buffer, features)
	if len(a.buffer) > a.bufferSize {
		a.buffer = a.buffer[len(a.buffer)-a.bufferSize:]
	}
}

// Score returns the anomaly score for the vector in [0,1]. An untrained
// model or any scoring failure yields 0; scoring never fails the pipeline.
func (a *AnomalyScorer) Score(features []float64) float64 {
	a.mu.RLock()
	sc, model := a.scaler, a.model
	a.mu.RUnlock()

	if model == nil {
		return 0
	}
	standardized, err := sc.transform(features)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Anomaly scoring failed, treating as score 0")
		return 0
	}
	s := model.score(standardized)
	if s < 0 {
		return 0
	}
	return math.Min(s, 1.0)
}

// Retrain fits a new scaler and model on the buffered samples if the buffer
// holds at least the minimum count, then swaps the pair in atomically. It
// returns true when a new model was installed.
func (a *AnomalyScorer) Retrain(now time.Time) bool {
	a.bufMu.Lock()
	samples := make([][]float64, len(a.buffer))
	copy(samples, a.buffer)
	a.bufMu.Unlock()

	if len(samples) < a.minSamples {
		return false
	}

	sc := fitScaler(samples)
	standardized := make([][]float64, 0, len(samples))
	for _, v := range samples {
		z, err := sc.transform(v)
		if err != nil {
			a.logger.Error().Err(err).Msg("Retrain aborted, keeping previous model")
			return false
		}
		standardized = append(standardized, z)
	}
	model := fitOutlierModel(standardized)

	a.mu.Lock()
	a.scaler = sc
	a.model = model
	a.lastTraining = now
	a.sampleCount = len(samples)
	a.mu.Unlock()

	metrics.ModelRetrains.Inc()
	a.logger.Info().Int("samples", len(samples)).Msg("Anomaly model retrained")

	if err := a.Save(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist anomaly model")
	}
	return true
}

// RunRetrainLoop retrains on the given interval until the context is
// cancelled. Scoring is never blocked for the duration of a retrain.
func (a *AnomalyScorer) RunRetrainLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Retrain(time.Now())
		case <-ctx.Done():
			a.logger.Info().Msg("Retrain loop stopped")
			return
		}
	}
}

// Save writes the current model artifact to the models directory.
func (a *AnomalyScorer) Save() error {
	if a.modelsPath == "" {
		return nil
	}
	a.mu.RLock()
	artifact := modelArtifact{
		Scaler:              a.scaler,
		Model:               a.model,
		LastTraining:        a.lastTraining,
		TrainingSampleCount: a.sampleCount,
	}
	a.mu.RUnlock()

	if artifact.Model == nil {
		return nil
	}
	if err := os.MkdirAll(a.modelsPath, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(a.modelsPath, modelFileName), data, 0o644)
}

// Load restores a persisted model artifact if one exists. A missing file is
// not an error; the scorer simply starts untrained.
func (a *AnomalyScorer) Load() error {
	if a.modelsPath == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(a.modelsPath, modelFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return fmt.Errorf("corrupt model artifact: %w", err)
	}
	if artifact.Model == nil || artifact.Scaler == nil {
		return nil
	}

	a.mu.Lock()
	a.scaler = artifact.Scaler
	a.model = artifact.Model
	a.lastTraining = artifact.LastTraining
	a.sampleCount = artifact.TrainingSampleCount
	a.mu.Unlock()

	a.logger.Info().Time("last_training", artifact.LastTraining).Msg("Loaded persisted anomaly model")
	return nil
}
