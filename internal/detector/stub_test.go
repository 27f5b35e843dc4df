package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outletguard/orchestrator/internal/frameslot"
)

func TestNewStubDefaultsDimension(t *testing.T) {
	s := NewStub(0)
	assert.Equal(t, 128, s.Dim)
}

func TestDetectReturnsNilOnEmptyFrame(t *testing.T) {
	s := NewStub(8)
	faces, err := s.Detect(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, faces)

	faces, err = s.Detect(context.Background(), &frameslot.Frame{Height: 0, Width: 0})
	require.NoError(t, err)
	assert.Nil(t, faces)
}

func TestDetectIsDeterministicForIdenticalFrames(t *testing.T) {
	s := NewStub(8)
	frame := &frameslot.Frame{Height: 2, Width: 2, Pix: []byte{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120}}

	faces1, err := s.Detect(context.Background(), frame)
	require.NoError(t, err)
	faces2, err := s.Detect(context.Background(), frame)
	require.NoError(t, err)

	require.Len(t, faces1, 1)
	require.Len(t, faces2, 1)
	assert.Equal(t, faces1[0].Embedding, faces2[0].Embedding)
	assert.Equal(t, [4]float64{0, 0, 2, 2}, faces1[0].BBox)
}

func TestDetectProducesDifferentEmbeddingsForDifferentFrames(t *testing.T) {
	s := NewStub(8)
	dark := &frameslot.Frame{Height: 1, Width: 1, Pix: []byte{0, 0, 0}}
	bright := &frameslot.Frame{Height: 1, Width: 1, Pix: []byte{255, 255, 255}}

	darkFaces, err := s.Detect(context.Background(), dark)
	require.NoError(t, err)
	brightFaces, err := s.Detect(context.Background(), bright)
	require.NoError(t, err)

	assert.NotEqual(t, darkFaces[0].Embedding[0], brightFaces[0].Embedding[0])
}

func TestCloseIsNoop(t *testing.T) {
	s := NewStub(8)
	assert.NoError(t, s.Close())
}
