package models

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LabelTable maps class indices to names. Tables are shared by reference
// between sessions and never modified after load.
type LabelTable []string

// Lookup returns the label for class index i.
func (t LabelTable) Lookup(i int) (string, bool) {
	if i < 0 || i >= len(t) {
		return "", false
	}
	return t[i], true
}

// COCOLabels is the class list of the 80-class YOLO exports, in model order.
var COCOLabels = LabelTable{
	"person",
	"bicycle",
	"car",
	"motorcycle",
	"airplane",
	"bus",
	"train",
	"truck",
	"boat",
	"traffic light",
	"fire hydrant",
	"stop sign",
	"parking meter",
	"bench",
	"bird",
	"cat",
	"dog",
	"horse",
	"sheep",
	"cow",
	"elephant",
	"bear",
	"zebra",
	"giraffe",
	"backpack",
	"umbrella",
	"handbag",
	"tie",
	"suitcase",
	"frisbee",
	"skis",
	"snowboard",
	"sports ball",
	"kite",
	"baseball bat",
	"baseball glove",
	"skateboard",
	"surfboard",
	"tennis racket",
	"bottle",
	"wine glass",
	"cup",
	"fork",
	"knife",
	"spoon",
	"bowl",
	"banana",
	"apple",
	"sandwich",
	"orange",
	"broccoli",
	"carrot",
	"hot dog",
	"pizza",
	"donut",
	"cake",
	"chair",
	"couch",
	"potted plant",
	"bed",
	"dining table",
	"toilet",
	"tv",
	"laptop",
	"mouse",
	"remote",
	"keyboard",
	"cell phone",
	"microwave",
	"oven",
	"toaster",
	"sink",
	"refrigerator",
	"book",
	"clock",
	"vase",
	"scissors",
	"teddy bear",
	"hair drier",
	"toothbrush",
}

// LoadLabels reads a label table from disk. Files ending in .json hold a
// JSON array of strings; any other file holds one label per line.
func LoadLabels(path string) (LabelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read labels")
	}

	var labels LabelTable
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &labels); err != nil {
			return nil, errors.Wrapf(err, "parse labels %s", path)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			labels = append(labels, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "scan labels %s", path)
		}
	}

	if len(labels) == 0 {
		return nil, errors.Errorf("no labels in %s", path)
	}
	return labels, nil
}

var metadataNameEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)

// ParseMetadataNames parses the "names" metadata value written by
// Ultralytics exports, e.g. {0: 'person', 1: 'bicycle'}. Indices must run
// contiguously from zero.
func ParseMetadataNames(s string) (LabelTable, error) {
	matches := metadataNameEntry.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, errors.Errorf("no label entries in metadata %q", s)
	}

	byIndex := make(map[int]string, len(matches))
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, errors.Wrapf(err, "label index %q", m[1])
		}
		if _, dup := byIndex[idx]; dup {
			return nil, errors.Errorf("duplicate label index %d", idx)
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		byIndex[idx] = name
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	labels := make(LabelTable, len(indices))
	for i, idx := range indices {
		if idx != i {
			return nil, errors.Errorf("label indices are not contiguous: missing %d", i)
		}
		labels[i] = byIndex[idx]
	}
	return labels, nil
}
