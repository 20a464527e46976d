package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBareMetalDetect(t *testing.T) {
	var d Detector = BareMetal{}
	label, quota := d.Detect()
	assert.Equal(t, "bare_metal", label)
	assert.Nil(t, quota)
}
