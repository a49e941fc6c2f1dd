package ml

// Transformer turns feature rows into a numeric matrix.
type Transformer interface {
	Transform(rows []FeatureRow) ([][]float64, error)
}

// Regressor predicts one value per row of an already encoded matrix.
type Regressor interface {
	Predict(features [][]float64) ([]float64, error)
}

// RowPredictor predicts straight from feature rows, transform included.
type RowPredictor interface {
	PredictRows(rows []FeatureRow) ([]float64, error)
}

// Pipeline bundles a fit preprocessor with the model trained on its output.
type Pipeline struct {
	Preprocessor *ColumnTransformer
	Model        *LinearRegression
}

func NewPipeline(preprocessor *ColumnTransformer, model *LinearRegression) *Pipeline {
	return &Pipeline{Preprocessor: preprocessor, Model: model}
}

func (p *Pipeline) Transform(rows []FeatureRow) ([][]float64, error) {
	return p.Preprocessor.Transform(rows)
}

func (p *Pipeline) PredictRows(rows []FeatureRow) ([]float64, error) {
	features, err := p.Preprocessor.Transform(rows)
	if err != nil {
		return nil, err
	}
	return p.Model.Predict(features)
}
