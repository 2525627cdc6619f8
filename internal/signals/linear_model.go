package signals

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"portfolio_bot/internal/models"
	"portfolio_bot/pkg/logger"
)

// LinearModel is a horizon model exported as JSON:
//
//	{"horizon":"6h","intercept":0.001,"coefficients":{"r_6h":0.4,"rsi14":0.002}}
//
// Features absent from coefficients weigh zero.
type LinearModel struct {
	Horizon      string             `json:"horizon"`
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`

	weights []float64
}

func (m *LinearModel) compile() error {
	m.weights = make([]float64, len(models.FeatureOrder))
	known := make(map[string]int, len(models.FeatureOrder))
	for i, name := range models.FeatureOrder {
		known[name] = i
	}
	for name, w := range m.Coefficients {
		i, ok := known[name]
		if !ok {
			return fmt.Errorf("unknown feature %q", name)
		}
		m.weights[i] = w
	}
	return nil
}

func (m *LinearModel) Predict(x []float64) (float64, error) {
	if len(x) != len(m.weights) {
		return 0, fmt.Errorf("expected %d inputs, got %d", len(m.weights), len(x))
	}
	out := m.Intercept
	for i, w := range m.weights {
		out += w * x[i]
	}
	return out, nil
}

func LoadLinearModel(path string) (*LinearModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read model %s", path)
	}
	var m LinearModel
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrapf(err, "decode model %s", path)
	}
	if err := m.compile(); err != nil {
		return nil, errors.Wrapf(err, "model %s", path)
	}
	return &m, nil
}

// LoadPredictor looks for linear_6h.json and linear_24h.json in dir. Missing or
// broken files leave that horizon on the fallback; with neither present the
// NullPredictor is returned.
func LoadPredictor(dir string) Predictor {
	if dir == "" {
		logger.Warn("signals: no model dir configured, using fallback scoring")
		return NullPredictor{}
	}

	load := func(horizon string) HorizonModel {
		path := filepath.Join(dir, "linear_"+horizon+".json")
		m, err := LoadLinearModel(path)
		if err != nil {
			logger.Warn("signals: %s model unavailable: %v", horizon, err)
			return nil
		}
		logger.Info("signals: loaded %s model from %s", horizon, path)
		return m
	}

	short, long := load("6h"), load("24h")
	if short == nil && long == nil {
		return NullPredictor{}
	}
	return ModelPredictor{Short: short, Long: long}
}
