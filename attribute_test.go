package fast_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AustinTapp/FAST"
)

type classifier struct {
	*fast.ProcessObject
	loaded int
	reject error
}

func (*classifier) Execute(context.Context) error { return nil }

func (c *classifier) LoadAttributes() error {
	if c.reject != nil {
		return c.reject
	}
	c.loaded++
	return nil
}

func newClassifier() *classifier {
	c := &classifier{}
	c.ProcessObject = fast.NewProcessObject("classifier", c)
	c.CreateIntegerAttribute("classes", "Classes", "Number of output classes", 2)
	c.CreateFloatAttribute("threshold", "Threshold", "Minimum confidence", 0.5)
	c.CreateBooleanAttribute("heatmap", "Heatmap", "Produce heatmap output", true)
	c.CreateStringAttribute("model", "Model", "Model file", "model.onnx")
	c.CreateIntegerListAttribute("size", "Size", "Input size", []int{256, 256})
	c.CreateFloatListAttribute("scale", "Scale", "Intensity scale", []float64{1})
	return c
}

func TestAttributes(t *testing.T) {
	c := newClassifier()
	require.NoError(t, c.Update(context.Background()))
	require.False(t, c.IsModified())

	require.NoError(t, c.SetAttributes(map[string]interface{}{
		"classes":   "3",
		"threshold": 0.75,
		"heatmap":   "false",
		"model":     "other.onnx",
		"size":      "512 512 3",
		"scale":     []interface{}{0.5, "2"},
	}))
	assert.True(t, c.IsModified())
	assert.Equal(t, 1, c.loaded)

	classes, err := c.IntegerAttribute("classes")
	require.NoError(t, err)
	assert.Equal(t, 3, classes)
	threshold, err := c.FloatAttribute("threshold")
	require.NoError(t, err)
	assert.Equal(t, 0.75, threshold)
	heatmap, err := c.BooleanAttribute("heatmap")
	require.NoError(t, err)
	assert.False(t, heatmap)
	model, err := c.StringAttribute("model")
	require.NoError(t, err)
	assert.Equal(t, "other.onnx", model)
	size, err := c.IntegerListAttribute("size")
	require.NoError(t, err)
	assert.Equal(t, []int{512, 512, 3}, size)
	scale, err := c.FloatListAttribute("scale")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 2}, scale)

	attrs := c.Attributes()
	require.Len(t, attrs, 6)
	assert.Equal(t, "classes", attrs[0].ID)
	assert.Equal(t, fast.AttributeInteger, attrs[0].Type)
	assert.Equal(t, 2, attrs[0].Default)
	assert.Equal(t, 3, attrs[0].Value)
}

func TestAttributeUnchanged(t *testing.T) {
	c := newClassifier()
	require.NoError(t, c.Update(context.Background()))
	require.NoError(t, c.SetAttribute("classes", 2))
	require.NoError(t, c.SetAttribute("size", "256,256"))
	assert.False(t, c.IsModified())
}

func TestAttributeErrors(t *testing.T) {
	c := newClassifier()
	tests := []struct {
		name  string
		id    string
		value interface{}
	}{
		{name: "unknown", id: "missing", value: 1},
		{name: "integer", id: "classes", value: "many"},
		{name: "boolean", id: "heatmap", value: "sometimes"},
		{name: "list", id: "size", value: "a b"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := c.SetAttribute(test.id, test.value)
			var cfgErr *fast.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "unexpected error: %v", err)
		})
	}

	err := c.SetAttributes(map[string]interface{}{"classes": "x", "heatmap": "y"})
	var cfgErr *fast.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Zero(t, c.loaded)

	_, err = c.FloatAttribute("classes")
	assert.True(t, errors.As(err, &cfgErr))
}

func TestSetAttributeLoads(t *testing.T) {
	c := newClassifier()
	require.NoError(t, c.SetAttribute("classes", 4))
	assert.Equal(t, 1, c.loaded)
	require.NoError(t, c.Update(context.Background()))

	c.reject = errMock
	err := c.SetAttributes(map[string]interface{}{"classes": 5, "model": "rejected.onnx"})
	assert.ErrorIs(t, err, errMock)
	assert.False(t, c.IsModified())
	classes, err := c.IntegerAttribute("classes")
	require.NoError(t, err)
	assert.Equal(t, 4, classes)
	model, err := c.StringAttribute("model")
	require.NoError(t, err)
	assert.Equal(t, "model.onnx", model)
}

func TestSetAttributesAllOrNothing(t *testing.T) {
	c := newClassifier()
	err := c.SetAttributes(map[string]interface{}{"classes": 3, "heatmap": "sometimes"})
	var cfgErr *fast.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	classes, err := c.IntegerAttribute("classes")
	require.NoError(t, err)
	assert.Equal(t, 2, classes)
	assert.Zero(t, c.loaded)
}
