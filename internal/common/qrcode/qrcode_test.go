// Package qrcode 二维码生成功能单元测试
package qrcode

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verifyURL = "https://rent.example.com/bookings/verify?token=4f1c2a9e"

// ==================== NewGenerator 测试 ====================

func TestNewGenerator(t *testing.T) {
	t.Run("默认参数", func(t *testing.T) {
		gen := NewGenerator()
		assert.Equal(t, 256, gen.size)
		assert.Equal(t, Medium, gen.recoveryLevel)
	})

	t.Run("自定义参数", func(t *testing.T) {
		gen := NewGenerator(WithSize(512), WithRecoveryLevel(High))
		assert.Equal(t, 512, gen.size)
		assert.Equal(t, High, gen.recoveryLevel)
	})
}

// ==================== GeneratePNG 测试 ====================

func TestGenerator_GeneratePNG(t *testing.T) {
	for _, level := range []RecoveryLevel{Low, Medium, High, Highest} {
		gen := NewGenerator(WithSize(200), WithRecoveryLevel(level))

		data, err := gen.GeneratePNG(verifyURL)
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 200, img.Bounds().Dx())
		assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestGenerator_GeneratePNG_EmptyContent(t *testing.T) {
	_, err := NewGenerator().GeneratePNG("")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestGenerator_GeneratePNG_Deterministic(t *testing.T) {
	gen := NewGenerator()
	a, err := gen.GeneratePNG(verifyURL)
	require.NoError(t, err)
	b, err := gen.GeneratePNG(verifyURL)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := gen.GeneratePNG(verifyURL + "x")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
