package dataset

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadImagesNormalizes(t *testing.T) {
	data, rows, cols, err := ReadImages(strings.NewReader("0,255,51\n102, 0 ,255\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	want := []float64{0, 1, 0.2, 0.4, 0, 1}
	for i, w := range want {
		assert.InDelta(t, w, data[i], 1e-12)
	}
}

func TestReadImagesErrors(t *testing.T) {
	_, _, _, err := ReadImages(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrShape)
	_, _, _, err = ReadImages(strings.NewReader("0,256\n"))
	assert.ErrorIs(t, err, ErrFeatureRange)
	_, _, _, err = ReadImages(strings.NewReader("0,x\n"))
	assert.Error(t, err)
	_, _, _, err = ReadImages(strings.NewReader("0,1\n0,1,2\n"))
	assert.Error(t, err)
}

func TestReadLabels(t *testing.T) {
	labels, err := ReadLabels(strings.NewReader("7\n2\n\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, []int{7, 2, 1}, labels)

	_, err = ReadLabels(strings.NewReader("7\nseven\n"))
	assert.Error(t, err)
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	images := filepath.Join(dir, "train_image.csv")
	labels := filepath.Join(dir, "train_label.csv")
	require.NoError(t, os.WriteFile(images, []byte("0,255\n255,0\n"), 0o644))
	require.NoError(t, os.WriteFile(labels, []byte("1\n0\n"), 0o644))

	ds, err := LoadCSV(images, labels)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []int{1, 0}, ds.Labels())

	submit, err := LoadCSV(images, "")
	require.NoError(t, err)
	assert.False(t, submit.HasLabels())

	require.NoError(t, os.WriteFile(labels, []byte("1\n"), 0o644))
	_, err = LoadCSV(images, labels)
	assert.ErrorIs(t, err, ErrShape)
}

func cifarRecord(label byte, fill byte) []byte {
	rec := make([]byte, CIFARRow)
	rec[0] = label
	for i := CIFARLabelSize; i < CIFARRow; i++ {
		rec[i] = fill
	}
	return rec
}

func TestReadCIFAR10(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(cifarRecord(3, 255))
	buf.Write(cifarRecord(9, 0))

	ds, err := ReadCIFAR10(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, CIFARImageSize, ds.Features())
	assert.Equal(t, []int{3, 9}, ds.Labels())
	m := ds.Matrix()
	assert.Equal(t, 1.0, m.At(0, 0))
	assert.Equal(t, 1.0, m.At(0, CIFARImageSize-1))
	assert.Equal(t, 0.0, m.At(1, 0))
	require.NoError(t, ds.Validate(CIFARImageSize, CIFARClasses))

	truncated := bytes.NewReader(append(cifarRecord(1, 1), 1, 2, 3))
	_, err = ReadCIFAR10(truncated)
	assert.ErrorIs(t, err, ErrShape)

	_, err = ReadCIFAR10(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrShape)
}

func TestWritePredictions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePredictions(&buf, []int{7, 0, 3}))
	assert.Equal(t, "7\n0\n3\n", buf.String())

	path := filepath.Join(t.TempDir(), "test_predictions.csv")
	require.NoError(t, SavePredictions(path, []int{1, 2}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	labels, err := ReadLabels(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, labels)
}

func TestSaveImageGrayscale(t *testing.T) {
	// 2x2 grayscale sample
	ds, err := New([]float64{0, 1, 0.2, 0.4}, 1, 4, []int{0})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sample.png")
	require.NoError(t, ds.SaveImage(0, path))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	r, _, _, _ := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	r, _, _, _ = img.At(0, 1).RGBA()
	assert.Equal(t, uint32(51*0x101), r)

	_, err = ds.Image(1)
	assert.Error(t, err)
	odd, _ := New([]float64{0, 0, 0, 0, 0}, 1, 5, nil)
	_, err = odd.Image(0)
	assert.ErrorIs(t, err, ErrShape)
}

func TestImagePlanarRGB(t *testing.T) {
	var buf bytes.Buffer
	rec := cifarRecord(0, 0)
	// red plane first pixel full
	rec[CIFARLabelSize] = 255
	buf.Write(rec)
	ds, err := ReadCIFAR10(&buf)
	require.NoError(t, err)

	img, err := ds.Image(0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), img.Bounds())
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0, 0xffff}, []uint32{r, g, b, a})
}
