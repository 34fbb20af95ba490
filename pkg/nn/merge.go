package nn

import (
	flatbush "github.com/bmharper/flatbush-go"
)

// Default merge map for traffic. A small pickup is often reported as both
// a "truck" and a "car", and a bus as both a "bus" and a "truck".
var DefaultMergeMap = map[string]string{
	"truck": "car",
	"bus":   "truck",
}

const DefaultMergeIoU = 0.7

// Scan all pairs of detections in 'input', and if they have a high IoU, and their classes are specified in 'mergeMap',
// then merge them into a single detection.
// Returns the indices of the detections that should be retained.
func MergeSimilarObjects(input []Detection, mergeMap map[string]string, minIoU float32) []int {
	if len(input) < 2 || len(mergeMap) == 0 {
		retain := make([]int, len(input))
		for i := range input {
			retain[i] = i
		}
		return retain
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for i := range input {
		box := input[i].Box()
		fb.Add(int32(box.X), int32(box.Y), int32(box.X2()), int32(box.Y2()))
	}
	fb.Finish()

	deleted := map[int]bool{}
	nChanged := 1

	for nChanged != 0 {
		nChanged = 0
		for i := range input {
			if deleted[i] {
				continue
			}
			expectOtherClass, ok := mergeMap[input[i].Class]
			if !ok {
				continue
			}
			box := input[i].Box()
			for _, j := range fb.Search(int32(box.X), int32(box.Y), int32(box.X2()), int32(box.Y2())) {
				if i == j || deleted[j] {
					continue
				}
				if input[j].Class != expectOtherClass {
					continue
				}
				if box.IOU(input[j].Box()) >= minIoU {
					// Delete the class on the 'left' of the map. So if the map says {"truck": "car"},
					// then we delete 'truck' and keep 'car'.
					deleted[i] = true
					nChanged++
					break
				}
			}
		}
	}

	retain := make([]int, 0, len(input))
	for i := range input {
		if !deleted[i] {
			retain = append(retain, i)
		}
	}
	return retain
}
