package detections

const (
	// Tensor names of the Ultralytics ONNX exports.
	InputName  = "images"
	OutputName = "output0"

	// DefaultOutputRows is the anchor count of a 640x640 YOLOv8/v11 head,
	// used when the model reports a dynamic output shape.
	DefaultOutputRows = 8400
)
