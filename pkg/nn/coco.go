package nn

import "fmt"

const (
	COCOPerson     = 0
	COCOBicycle    = 1
	COCOCar        = 2
	COCOMotorcycle = 3
	COCOBus        = 5
	COCOTruck      = 7
)

// COCO classes that are relevant to traffic counting.
// The model may report any of the 80 COCO classes, but only these have
// traffic names.
var TrafficClasses = map[int]string{
	COCOPerson:     "person",
	COCOBicycle:    "bicycle",
	COCOCar:        "car",
	COCOMotorcycle: "motorcycle",
	COCOBus:        "bus",
	COCOTruck:      "truck",
}

// Default set of enabled classes (name -> COCO ids)
var DefaultDetectionClasses = map[string][]int{
	"car":    {COCOCar},
	"truck":  {COCOTruck},
	"bus":    {COCOBus},
	"person": {COCOPerson},
}

// Vehicle classes are subject to vehicle-specific plausibility checks
var VehicleClasses = map[string]bool{
	"car":   true,
	"truck": true,
	"bus":   true,
}

// ClassName converts a COCO class ID to a traffic class name.
// Unknown IDs become "class_<id>".
func ClassName(classID int) string {
	if name, ok := TrafficClasses[classID]; ok {
		return name
	}
	return fmt.Sprintf("class_%v", classID)
}

// ClassID is the inverse of ClassName. Returns -1 if the name is not a traffic class.
func ClassID(name string) int {
	for id, n := range TrafficClasses {
		if n == name {
			return id
		}
	}
	return -1
}
