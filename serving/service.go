package serving

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"examscore/db"
	"examscore/ml"
)

// Auditor stores served predictions. *db.Store satisfies it.
type Auditor interface {
	SavePredictions(ctx context.Context, requestID string, records []db.PredictionRecord) error
}

type Options struct {
	// CacheSize 0 selects DefaultCacheSize; negative disables caching.
	CacheSize int
	Auditor   Auditor
	Logger    *zap.Logger
}

// Service answers prediction requests from one immutable Context.
type Service struct {
	sc      *Context
	cache   *predictionCache
	auditor Auditor
	logger  *zap.Logger
}

func NewService(sc *Context, opts Options) (*Service, error) {
	if sc == nil {
		return nil, fmt.Errorf("serving context is required")
	}
	cache, err := newPredictionCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create prediction cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sc:      sc,
		cache:   cache,
		auditor: opts.Auditor,
		logger:  logger.Named("serving"),
	}, nil
}

func (s *Service) Context() *Context { return s.sc }

// CacheLen reports how many predictions are cached.
func (s *Service) CacheLen() int { return s.cache.Len() }

// Predict normalizes instances and returns one prediction per instance, in order.
func (s *Service) Predict(ctx context.Context, instances []Instance) ([]float64, error) {
	if !s.sc.Ready() {
		return nil, &ModelUnavailableError{Diagnostics: s.sc.Diagnostics()}
	}
	rows, err := Normalize(instances)
	if err != nil {
		return nil, err
	}
	return s.PredictRows(ctx, rows)
}

// PredictForm predicts the single row of a form submission.
func (s *Service) PredictForm(ctx context.Context, values url.Values) (float64, error) {
	if !s.sc.Ready() {
		return 0, &ModelUnavailableError{Diagnostics: s.sc.Diagnostics()}
	}
	rows, err := NormalizeForm(values)
	if err != nil {
		return 0, err
	}
	preds, err := s.PredictRows(ctx, rows)
	if err != nil {
		return 0, err
	}
	return preds[0], nil
}

// PredictRows predicts already normalized rows, consulting the cache first.
func (s *Service) PredictRows(ctx context.Context, rows []ml.FeatureRow) ([]float64, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make([]float64, len(rows))
	misses := s.cache.lookup(rows, out)
	if len(misses) > 0 {
		pending := make([]ml.FeatureRow, len(misses))
		for i, idx := range misses {
			pending[i] = rows[idx]
		}
		preds, err := s.sc.predict(pending)
		if err != nil {
			return nil, err
		}
		if len(preds) != len(pending) {
			return nil, fmt.Errorf("model returned %d predictions for %d rows", len(preds), len(pending))
		}
		for i, idx := range misses {
			out[idx] = preds[i]
			s.cache.store(rows[idx], preds[i])
		}
	}

	s.logger.Debug("predicted",
		zap.Int("rows", len(rows)),
		zap.Int("cache_hits", len(rows)-len(misses)))
	s.audit(ctx, rows, out)
	return out, nil
}

func (s *Service) audit(ctx context.Context, rows []ml.FeatureRow, preds []float64) {
	if s.auditor == nil {
		return
	}
	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	kind := s.sc.Kind().String()
	records := make([]db.PredictionRecord, len(rows))
	for i, row := range rows {
		records[i] = db.PredictionRecord{
			Features:     rowJSON(row),
			Prediction:   preds[i],
			ArtifactKind: kind,
		}
	}
	if err := s.auditor.SavePredictions(ctx, requestID, records); err != nil {
		s.logger.Warn("failed to audit predictions",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

func rowJSON(row ml.FeatureRow) string {
	fields := make(map[string]any, ml.FeatureCount)
	for i, f := range ml.Schema {
		switch {
		case row[i].IsMissing():
			fields[f.Name] = nil
		case f.Kind == ml.Numeric:
			fields[f.Name] = row[i].Num
		default:
			fields[f.Name] = row[i].Text
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// RawMatrix converts rows to numbers without a preprocessor, for a model
// trained on raw numeric features. Any missing or non-numeric cell fails.
func RawMatrix(rows []ml.FeatureRow) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for r, row := range rows {
		vec := make([]float64, ml.FeatureCount)
		for i, f := range ml.Schema {
			cell := row[i]
			switch {
			case cell.IsMissing():
				return nil, &RequestShapeError{Index: r, Reason: fmt.Sprintf("%s is missing and no preprocessor is loaded", f.Name)}
			case f.Kind == ml.Numeric:
				vec[i] = cell.Num
			default:
				v, err := strconv.ParseFloat(strings.TrimSpace(cell.Text), 64)
				if err != nil {
					return nil, &RequestShapeError{Index: r, Reason: fmt.Sprintf("%s value %q is not numeric and no preprocessor is loaded", f.Name, cell.Text)}
				}
				vec[i] = v
			}
		}
		out[r] = vec
	}
	return out, nil
}

type requestIDKey struct{}

// WithRequestID attaches a request id used for the prediction audit.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
