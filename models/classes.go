package models

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ClassFamily identifies the dataset a class list comes from.
type ClassFamily string

const (
	// ClassFamilyVOC is the Pascal VOC label set (20 classes + background).
	ClassFamilyVOC ClassFamily = "voc"
	// ClassFamilyCOCO is the COCO label set (80 classes + background).
	ClassFamilyCOCO ClassFamily = "coco"
)

// PascalVOCClasses is the 20 Pascal VOC classes + "background" at index 0,
// the label order of the reference SSD300 weights.
var PascalVOCClasses = []string{
	"background",
	"aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat", "chair", "cow",
	"diningtable", "dog", "horse", "motorbike", "person", "pottedplant", "sheep", "sofa", "train", "tvmonitor",
}

// COCOClasses is the full 80 COCO classes plus "background" at index 0.
var COCOClasses = []string{
	"background", "person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep",
	"cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase",
	"frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich",
	"orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
	"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// ClassNames returns a copy of the label list of a known family.
func ClassNames(family ClassFamily) ([]string, error) {
	switch family {
	case ClassFamilyVOC:
		return append([]string(nil), PascalVOCClasses...), nil
	case ClassFamilyCOCO:
		return append([]string(nil), COCOClasses...), nil
	default:
		return nil, fmt.Errorf("unknown class family: %q", family)
	}
}

// LoadClassAnnotations reads a YAML mapping of class id to class name, e.g.
//
//	0: background
//	1: person
//
// and returns the names ordered by id. Ids must be contiguous from 0.
//
// Arguments:
//   - path: The annotations file.
//
// Returns:
//   - []string: Class names where the slice index is the class id.
//   - error: An error if the file is unreadable or the ids have gaps.
func LoadClassAnnotations(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read class annotations %s", path)
	}

	return ParseClassAnnotations(data)
}

// ParseClassAnnotations parses the YAML form accepted by LoadClassAnnotations.
func ParseClassAnnotations(data []byte) ([]string, error) {
	var byID map[int]string
	if err := yaml.Unmarshal(data, &byID); err != nil {
		return nil, errors.Wrap(err, "failed to parse class annotations")
	}
	if len(byID) == 0 {
		return nil, errors.New("class annotations are empty")
	}

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	names := make([]string, len(ids))
	for i, id := range ids {
		if id != i {
			return nil, errors.Errorf("class annotations are not contiguous: expected id %d, got %d", i, id)
		}
		names[i] = byID[id]
	}

	return names, nil
}
