package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineReporter(t *testing.T) {
	var status, result bytes.Buffer
	r := NewLineReporter(&status, &result, "Exporting")

	r.Progress(1, 2)
	r.Progress(2, 2)
	r.Clear()
	r.Done("exported successfully with all 2 images")

	assert.Contains(t, status.String(), "Exporting (1/2 images loaded)")
	assert.Contains(t, status.String(), "Exporting (2/2 images loaded)")
	assert.Equal(t, "exported successfully with all 2 images\n", result.String())
}

func TestLineReporter_ClearWithoutProgress(t *testing.T) {
	var status bytes.Buffer
	r := NewLineReporter(&status, &status, "")
	r.Clear()
	assert.Empty(t, status.String())
}
