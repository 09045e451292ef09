package expression

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/expression/training"
)

// Status is a copy of everything the host shows about the engine.
type Status struct {
	Label           string             `json:"label"`
	Labels          []string           `json:"labels"`
	LabelCount      int                `json:"label_count"`
	Counts          map[string]int     `json:"counts"`
	PercentRecorded float64            `json:"percent_recorded"`
	Flags           Flags              `json:"flags"`
	Ready           bool               `json:"ready"`
	Expression      string             `json:"expression"`
	ExpressionTime  time.Time          `json:"expression_time"`
	ClassLabels     []string           `json:"class_labels"`
	Accuracy        float64            `json:"accuracy"`
	Confusion       [][]float64        `json:"confusion,omitempty"`
	Matrix          string             `json:"matrix,omitempty"`
	Warnings        []string           `json:"warnings"`
	Cols            int                `json:"cols"`
	Selection       features.Selection `json:"selection"`
}

// Status returns a snapshot of the engine's observable state. The result
// shares nothing with the engine.
func (e *Engine) Status() Status {
	labels := e.store.Labels()
	counts := make(map[string]int, len(labels))
	for _, l := range labels {
		counts[l] = e.store.Count(l)
	}
	st := Status{
		Label:           e.Settings.Label,
		Labels:          labels,
		LabelCount:      len(labels),
		Counts:          counts,
		PercentRecorded: e.store.PercentRecorded(e.Settings.Label),
		Flags:           e.Flags,
		Ready:           e.model.Ready(),
		Expression:      e.Expression(),
		ExpressionTime:  e.ExpressionTime(),
		ClassLabels:     e.ClassLabels(),
		Warnings:        append([]string(nil), e.warnings...),
		Cols:            len(e.indices),
		Selection:       e.Settings.Selection,
	}
	if e.result != nil && e.result.Confusion != nil {
		st.Accuracy = e.result.Accuracy
		st.Confusion = denseRows(e.result.Confusion)
		st.Matrix = training.FormatMatrix(e.result.Labels, e.result.Confusion)
	}
	return st
}

func denseRows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}
