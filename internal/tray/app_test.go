package tray

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIcon(t *testing.T) {
	data := generateIcon(16, connectedColor)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	r, g, b, _ := img.At(8, 16/6).RGBA()
	assert.Equal(t, [3]uint32{0, 128, 128}, [3]uint32{r >> 8, g >> 8, b >> 8})

	assert.NotEqual(t, data, generateIcon(16, idleColor))
}

func TestPortTitle(t *testing.T) {
	assert.Equal(t, "Port: (none)", portTitle(""))
	assert.Equal(t, "Port: COM3", portTitle("COM3"))
}

func TestProblemStatus(t *testing.T) {
	title, tooltip := problemStatus([]error{errors.New("settings.json: bad json")})
	assert.Equal(t, "Error: settings.json: bad json", title)
	assert.Equal(t, "settings.json: bad json", tooltip)

	title, tooltip = problemStatus([]error{errors.New("a"), errors.New("b")})
	assert.Equal(t, "Error: a (+1 more)", title)
	assert.Equal(t, "a\nb", tooltip)
}
