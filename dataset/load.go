package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	// CIFAR-10 binary record: one label byte followed by 3 planes of 32x32.
	CIFARImageSize = 32 * 32 * 3
	CIFARLabelSize = 1
	CIFARRow       = CIFARLabelSize + CIFARImageSize
	CIFARClasses   = 10

	maxPixel = 255.0
)

// ReadImages parses comma separated pixel rows (0..255) and scales them to [0, 1].
func ReadImages(r io.Reader) ([]float64, int, int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	var data []float64
	rows, cols := 0, 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("read image row %d: %w", rows+1, err)
		}
		if rows == 0 {
			cols = len(record)
		}
		for j, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("image row %d column %d: %w", rows+1, j+1, err)
			}
			if v < 0 || v > maxPixel {
				return nil, 0, 0, fmt.Errorf("%w: image row %d column %d is %v", ErrFeatureRange, rows+1, j+1, v)
			}
			data = append(data, v/maxPixel)
		}
		rows++
	}
	if rows == 0 {
		return nil, 0, 0, fmt.Errorf("%w: no image rows", ErrShape)
	}
	return data, rows, cols, nil
}

// ReadLabels parses one integer label per line. Blank lines are skipped.
func ReadLabels(r io.Reader) ([]int, error) {
	scanner := bufio.NewScanner(r)
	var labels []int
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("label line %d: %w", line, err)
		}
		labels = append(labels, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// LoadCSV reads an image file and, when labelPath is not empty, its labels.
func LoadCSV(imagePath, labelPath string) (*Dataset, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, rows, cols, err := ReadImages(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagePath, err)
	}

	var labels []int
	if labelPath != "" {
		lf, err := os.Open(labelPath)
		if err != nil {
			return nil, err
		}
		defer lf.Close()
		labels, err = ReadLabels(lf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", labelPath, err)
		}
	}
	return New(data, rows, cols, labels)
}

// ReadCIFAR10 decodes binary CIFAR-10 records until EOF. A partial trailing
// record is an error.
func ReadCIFAR10(r io.Reader) (*Dataset, error) {
	var data []float64
	var labels []int
	row := make([]byte, CIFARRow)
	for {
		_, err := io.ReadFull(r, row)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: truncated record %d", ErrShape, len(labels))
			}
			return nil, err
		}
		labels = append(labels, int(row[0]))
		for _, px := range row[CIFARLabelSize:] {
			data = append(data, float64(px)/maxPixel)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrShape)
	}
	return New(data, len(labels), CIFARImageSize, labels)
}

func LoadCIFAR10(filePath string) (*Dataset, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	ds, err := ReadCIFAR10(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return ds, nil
}

// WritePredictions writes one class per line.
func WritePredictions(w io.Writer, pred []int) error {
	bw := bufio.NewWriter(w)
	for _, p := range pred {
		if _, err := fmt.Fprintf(bw, "%d\n", p); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func SavePredictions(path string, pred []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePredictions(f, pred); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Image renders sample i as a square picture. Rows of side*side values are
// grayscale; rows of 3*side*side values are planar RGB as in CIFAR-10.
func (d *Dataset) Image(i int) (image.Image, error) {
	if i < 0 || i >= d.Len() {
		return nil, fmt.Errorf("sample %d out of range [0, %d)", i, d.Len())
	}
	cols := d.Features()
	channels := 1
	if cols%3 == 0 && isSquare(cols/3) {
		channels = 3
	}
	if !isSquare(cols / channels) {
		return nil, fmt.Errorf("%w: %d features is not a square image", ErrShape, cols)
	}
	side := intSqrt(cols / channels)
	plane := side * side
	px := d.data()[i*cols : (i+1)*cols]
	at := func(c, y, x int) uint8 {
		return uint8(px[c*plane+y*side+x]*maxPixel + 0.5)
	}

	if channels == 1 {
		img := image.NewGray(image.Rect(0, 0, side, side))
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				img.SetGray(x, y, color.Gray{Y: at(0, y, x)})
			}
		}
		return img, nil
	}
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, color.RGBA{at(0, y, x), at(1, y, x), at(2, y, x), 255})
		}
	}
	return img, nil
}

// SaveImage writes sample i as a PNG file.
func (d *Dataset) SaveImage(i int, path string) error {
	img, err := d.Image(i)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func intSqrt(n int) int {
	s := 0
	for (s+1)*(s+1) <= n {
		s++
	}
	return s
}

func isSquare(n int) bool {
	s := intSqrt(n)
	return n > 0 && s*s == n
}
