package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestConfusionHeatmap(t *testing.T) {
	var buf bytes.Buffer
	labels := []string{"neutral", "smile"}
	err := ConfusionHeatmap(&buf, labels, mat.NewDense(2, 2, []float64{240, 10, 0, 250}), 0.98)
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, "Expression confusion matrix")
	assert.Contains(t, html, "accuracy")
	assert.Contains(t, html, "smile")
}

func TestErrorRateChart(t *testing.T) {
	var buf bytes.Buffer
	err := ErrorRateChart(&buf, []string{"a", "b", "c"}, mat.NewDense(3, 3, []float64{
		10, 0, 0,
		2, 8, 0,
		0, 0, 0,
	}))
	require.NoError(t, err)
	require.Greater(t, buf.Len(), len(pngMagic))
	assert.Equal(t, pngMagic, buf.Bytes()[:len(pngMagic)])
}

func TestReport_Rejects(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, ConfusionHeatmap(&buf, nil, nil, 0), ErrNoResult)
	assert.ErrorIs(t, ErrorRateChart(&buf, []string{"a"}, nil), ErrNoResult)
	assert.Error(t, ErrorRateChart(&buf, []string{"a", "b", "c"}, mat.NewDense(2, 2, nil)))
	assert.Zero(t, buf.Len())
}
