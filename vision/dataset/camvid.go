// Package dataset loads CamVid-style segmentation data: a directory of
// photos, a parallel directory of colored label maps and a class_dict.csv
// mapping label colors to class names. Samples decode on demand to CHW
// float32 tensors sized to the configured crop.
package dataset

import (
	"encoding/csv"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// LabelEncoding selects the per-sample label tensor layout
type LabelEncoding int

const (
	// EncodeIndexMap produces (H, W) class-index labels for cross-entropy
	EncodeIndexMap LabelEncoding = iota
	// EncodeOneHot produces (C, H, W) one-hot labels for dice
	EncodeOneHot
)

// labelSuffix distinguishes colored label maps from photos that share a stem.
const labelSuffix = "_L"

// ClassDict maps label-map colors to class indices, in class_dict.csv row
// order. The last class is the void class: every color not present in the
// dictionary resolves to it.
type ClassDict struct {
	names  []string
	colors map[uint32]int32
}

func packColor(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// LoadClassDict parses a class_dict.csv with a header row and name,r,g,b
// records
func LoadClassDict(path string) (*ClassDict, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open class dictionary: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("class dictionary %s has no class rows", path)
	}

	dict := &ClassDict{colors: make(map[uint32]int32)}
	for i, record := range records[1:] {
		if len(record) < 4 {
			return nil, fmt.Errorf("class dictionary %s row %d: expected name,r,g,b", path, i+2)
		}

		rgb := make([]uint8, 3)
		for ch := 0; ch < 3; ch++ {
			v, err := strconv.Atoi(strings.TrimSpace(record[ch+1]))
			if err != nil || v < 0 || v > 255 {
				return nil, fmt.Errorf("class dictionary %s row %d: invalid color component %q", path, i+2, record[ch+1])
			}
			rgb[ch] = uint8(v)
		}

		dict.names = append(dict.names, strings.TrimSpace(record[0]))
		dict.colors[packColor(rgb[0], rgb[1], rgb[2])] = int32(i)
	}

	return dict, nil
}

// NumClasses returns the number of classes including void
func (cd *ClassDict) NumClasses() int {
	return len(cd.names)
}

// ClassNames returns the class names in index order
func (cd *ClassDict) ClassNames() []string {
	return append([]string(nil), cd.names...)
}

// ClassIndex resolves a label-map color. Colors missing from the dictionary
// map to the void class.
func (cd *ClassDict) ClassIndex(r, g, b uint8) int32 {
	if idx, ok := cd.colors[packColor(r, g, b)]; ok {
		return idx
	}
	return int32(len(cd.names) - 1)
}

// CamVidConfig describes one dataset split
type CamVidConfig struct {
	ImageDirs  []string // Photo directories, combined into one split
	LabelDirs  []string // Label-map directories aligned with ImageDirs
	CropHeight int
	CropWidth  int
	Encoding   LabelEncoding
}

type samplePair struct {
	imagePath string
	labelPath string
}

// CamVidDataset pairs each photo with its `<stem>_L.<ext>` label map and
// decodes both lazily in Get. Implements training.Dataset.
type CamVidDataset struct {
	config  CamVidConfig
	dict    *ClassDict
	samples []samplePair
}

// NewCamVidDataset scans the configured directories and pairs photos with
// label maps. A photo without a label map is an error, not a skip.
func NewCamVidDataset(config CamVidConfig, dict *ClassDict) (*CamVidDataset, error) {
	if config.CropHeight <= 0 || config.CropWidth <= 0 {
		return nil, fmt.Errorf("crop size must be positive, got %dx%d", config.CropHeight, config.CropWidth)
	}
	if len(config.ImageDirs) == 0 || len(config.ImageDirs) != len(config.LabelDirs) {
		return nil, fmt.Errorf("image and label directory lists must be non-empty and aligned, got %d and %d",
			len(config.ImageDirs), len(config.LabelDirs))
	}

	dataset := &CamVidDataset{config: config, dict: dict}
	for i, imageDir := range config.ImageDirs {
		if err := dataset.scanDir(imageDir, config.LabelDirs[i]); err != nil {
			return nil, err
		}
	}

	if len(dataset.samples) == 0 {
		return nil, fmt.Errorf("no images found in %v", config.ImageDirs)
	}
	sort.Slice(dataset.samples, func(a, b int) bool {
		return dataset.samples[a].imagePath < dataset.samples[b].imagePath
	})

	return dataset, nil
}

func (d *CamVidDataset) scanDir(imageDir, labelDir string) error {
	for _, ext := range []string{".png", ".jpg", ".jpeg"} {
		files, err := filepath.Glob(filepath.Join(imageDir, "*"+ext))
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", imageDir, err)
		}

		for _, file := range files {
			stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			labelPath := filepath.Join(labelDir, stem+labelSuffix+".png")
			if _, err := os.Stat(labelPath); err != nil {
				return fmt.Errorf("no label map for %s: %w", file, err)
			}
			d.samples = append(d.samples, samplePair{imagePath: file, labelPath: labelPath})
		}
	}
	return nil
}

// Len returns the number of photo/label pairs
func (d *CamVidDataset) Len() int {
	return len(d.samples)
}

// Get decodes one sample: a (3, H, W) image tensor in [0, 1] and its label
// tensor in the configured encoding, both nearest-neighbor scaled to the
// crop size.
func (d *CamVidDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.samples) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.samples))
	}
	sample := d.samples[idx]

	img, err := decodeImage(sample.imagePath)
	if err != nil {
		return nil, nil, err
	}
	data, err := d.imageTensor(img)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to preprocess %s: %w", sample.imagePath, err)
	}

	labelImg, err := decodeImage(sample.labelPath)
	if err != nil {
		return nil, nil, err
	}
	label, err := d.labelTensor(labelImg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode label %s: %w", sample.labelPath, err)
	}

	return data, label, nil
}

func decodeImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// sourcePixel maps a crop-space coordinate back to the source image,
// nearest-neighbor.
func sourcePixel(img image.Image, x, y, cropW, cropH int) (int, int) {
	bounds := img.Bounds()
	srcX := bounds.Min.X + x*bounds.Dx()/cropW
	srcY := bounds.Min.Y + y*bounds.Dy()/cropH
	if srcX >= bounds.Max.X {
		srcX = bounds.Max.X - 1
	}
	if srcY >= bounds.Max.Y {
		srcY = bounds.Max.Y - 1
	}
	return srcX, srcY
}

// imageTensor scales the photo to the crop size and converts to CHW float32
// in [0, 1].
func (d *CamVidDataset) imageTensor(img image.Image) (*tensor.Tensor, error) {
	h, w := d.config.CropHeight, d.config.CropWidth
	plane := h * w

	out, err := tensor.Zeros([]int{3, h, w})
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			srcX, srcY := sourcePixel(img, x, y, w, h)
			r, g, b, _ := img.At(srcX, srcY).RGBA()

			idx := y*w + x
			out.Data[idx] = float32(r) / 65535.0
			out.Data[plane+idx] = float32(g) / 65535.0
			out.Data[2*plane+idx] = float32(b) / 65535.0
		}
	}
	return out, nil
}

// labelTensor scales the label map to the crop size and encodes each pixel's
// color through the class dictionary.
func (d *CamVidDataset) labelTensor(img image.Image) (*tensor.Tensor, error) {
	h, w := d.config.CropHeight, d.config.CropWidth

	indices := make([]int32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			srcX, srcY := sourcePixel(img, x, y, w, h)
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			indices[y*w+x] = d.dict.ClassIndex(uint8(r>>8), uint8(g>>8), uint8(b>>8))
		}
	}

	if d.config.Encoding == EncodeOneHot {
		return tensor.OneHot(indices, h, w, d.dict.NumClasses())
	}

	out, err := tensor.Zeros([]int{h, w})
	if err != nil {
		return nil, err
	}
	for i, cls := range indices {
		out.Data[i] = float32(cls)
	}
	return out, nil
}
