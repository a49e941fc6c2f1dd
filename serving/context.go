package serving

import (
	"time"

	"examscore/ml"
)

// Context is the resolved artifact set a Service predicts with. It is built
// once at startup and never modified, so it is safe to share.
type Context struct {
	dir          string
	loadedAt     time.Time
	pipeline     ml.RowPredictor
	model        ml.Regressor
	preprocessor ml.Transformer
	kind         ml.ArtifactKind
	paths        []string
	diagnostics  []string
}

// LoadContext resolves the artifacts under dir exactly once.
func LoadContext(dir string, cands Candidates) *Context {
	c := NewContext(Resolve(dir, cands))
	c.dir = dir
	return c
}

// NewContext builds a Context from an existing resolution.
func NewContext(res Resolution) *Context {
	c := &Context{
		loadedAt:    time.Now(),
		kind:        ml.KindUnusable,
		diagnostics: append([]string(nil), res.Diagnostics...),
	}
	if res.Pipeline != nil {
		if p, ok := res.Pipeline.Object.(ml.RowPredictor); ok {
			c.pipeline = p
			c.kind = ml.KindPipeline
			c.paths = append(c.paths, res.Pipeline.Path)
			return c
		}
	}
	if res.Model != nil {
		if m, ok := res.Model.Object.(ml.Regressor); ok {
			c.model = m
			c.kind = ml.KindModel
			c.paths = append(c.paths, res.Model.Path)
		}
	}
	if res.Preprocessor != nil {
		if t, ok := res.Preprocessor.Object.(ml.Transformer); ok {
			c.preprocessor = t
			c.paths = append(c.paths, res.Preprocessor.Path)
		}
	}
	return c
}

func (c *Context) Dir() string { return c.dir }

func (c *Context) LoadedAt() time.Time { return c.loadedAt }

// Kind is KindPipeline, KindModel or KindUnusable.
func (c *Context) Kind() ml.ArtifactKind { return c.kind }

// Ready reports whether predictions can be served.
func (c *Context) Ready() bool { return c.kind != ml.KindUnusable }

func (c *Context) HasPreprocessor() bool { return c.preprocessor != nil }

// Paths lists the artifact files in use.
func (c *Context) Paths() []string { return append([]string(nil), c.paths...) }

func (c *Context) Diagnostics() []string { return append([]string(nil), c.diagnostics...) }

// predict runs rows through whatever the resolution produced.
func (c *Context) predict(rows []ml.FeatureRow) ([]float64, error) {
	switch {
	case c.pipeline != nil:
		return c.pipeline.PredictRows(rows)
	case c.model != nil && c.preprocessor != nil:
		features, err := c.preprocessor.Transform(rows)
		if err != nil {
			return nil, err
		}
		return c.model.Predict(features)
	case c.model != nil:
		features, err := RawMatrix(rows)
		if err != nil {
			return nil, err
		}
		return c.model.Predict(features)
	default:
		return nil, &ModelUnavailableError{Diagnostics: c.Diagnostics()}
	}
}
