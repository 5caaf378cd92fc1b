package detections

import (
	"github.com/Tutortoise/object-detection-service/models"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// Engine runs one inference at a time. Implementations are not required
// to be safe for concurrent use.
type Engine interface {
	Infer(in *models.InputTensor) (*models.RawOutput, error)
	Destroy() error
}

// SessionOptions tunes the ONNX Runtime session.
type SessionOptions struct {
	IntraOpThreads int
	InterOpThreads int
	// Classes sizes the output tensor when the model reports a dynamic
	// attribute dimension.
	Classes int
}

// ModelSession is an ONNX Runtime session with its bound input and output
// tensors.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

var _ Engine = (*ModelSession)(nil)

// NewModelSession loads modelPath and binds the "images" input and the
// "output0" output.
func NewModelSession(modelPath string, opts SessionOptions) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, newError(KindSessionBuild, "create session options", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, newError(KindSessionBuild, "set intra-op threads", err)
		}
	}
	if opts.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			return nil, newError(KindSessionBuild, "set inter-op threads", err)
		}
	}

	outputShape, err := modelOutputShape(modelPath, opts.Classes)
	if err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, models.InputChannels, models.InputHeight, models.InputWidth)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, newError(KindSessionBuild, "create input tensor", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, newError(KindSessionBuild, "create output tensor", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{InputName},
		[]string{OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, newError(KindSessionLoad, "create session", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

// modelOutputShape reads the output dimensions from the model. Dynamic
// dimensions fall back to (1, 4+classes, 8400).
func modelOutputShape(modelPath string, classes int) (ort.Shape, error) {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, newError(KindSessionLoad, "read model info", err)
	}

	for _, info := range outputs {
		if info.Name != OutputName {
			continue
		}
		dims := info.Dimensions
		if len(dims) != 3 {
			return nil, newError(KindSessionLoad, "read model info",
				errors.Errorf("output %q has shape %v, want (1, attributes, rows)", OutputName, dims))
		}
		shape := ort.NewShape(1, dims[1], dims[2])
		if shape[1] <= 0 {
			if classes <= 0 {
				return nil, newError(KindSessionLoad, "read model info",
					errors.Errorf("output %q has a dynamic attribute dimension and no class count is configured", OutputName))
			}
			shape[1] = int64(models.BoxAttributes + classes)
		}
		if shape[2] <= 0 {
			shape[2] = DefaultOutputRows
		}
		return shape, nil
	}

	return nil, newError(KindSessionLoad, "read model info",
		errors.Errorf("model has no output named %q", OutputName))
}

// Infer copies the input view into the bound input tensor, runs the model
// and returns the output as (rows, attributes).
func (m *ModelSession) Infer(in *models.InputTensor) (*models.RawOutput, error) {
	dst := m.Input.GetData()
	src := in.Data()
	if len(src) != len(dst) {
		return nil, newError(KindInputPreparation, "prepare input",
			errors.Errorf("input has %d values, session expects %d", len(src), len(dst)))
	}
	copy(dst, src)

	if err := m.Session.Run(); err != nil {
		return nil, newError(KindInferenceExecution, "run inference", err)
	}

	return rawFromOutput(m.Output.GetShape(), m.Output.GetData())
}

// rawFromOutput transposes a (1, attributes, rows) output into a new
// (rows, attributes) matrix. The source buffer is reused by the next run,
// so it is always copied.
func rawFromOutput(shape ort.Shape, data []float32) (*models.RawOutput, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, newError(KindOutputExtraction, "extract output",
			errors.Errorf("output shape %v, want (1, attributes, rows)", shape))
	}
	attributes, rows := int(shape[1]), int(shape[2])
	if attributes < 0 || rows < 0 || len(data) != attributes*rows {
		return nil, newError(KindOutputExtraction, "extract output",
			errors.Errorf("output shape %v does not match %d values", shape, len(data)))
	}

	transposed := make([]float32, len(data))
	for a := 0; a < attributes; a++ {
		plane := data[a*rows : (a+1)*rows]
		for r, v := range plane {
			transposed[r*attributes+a] = v
		}
	}

	raw, err := models.NewRawOutput(rows, attributes, transposed)
	if err != nil {
		return nil, newError(KindOutputExtraction, "extract output", err)
	}
	return raw, nil
}

func (m *ModelSession) Destroy() error {
	var err error
	if m.Session != nil {
		err = multierr.Append(err, m.Session.Destroy())
	}
	if m.Input != nil {
		err = multierr.Append(err, m.Input.Destroy())
	}
	if m.Output != nil {
		err = multierr.Append(err, m.Output.Destroy())
	}
	return err
}

// LabelsFromModel reads the label table an Ultralytics export stores under
// the "names" metadata key.
func LabelsFromModel(modelPath string) (models.LabelTable, error) {
	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return nil, newError(KindSessionLoad, "read model metadata", err)
	}
	defer metadata.Destroy()

	names, ok, err := metadata.LookupCustomMetadataMap("names")
	if err != nil {
		return nil, newError(KindSessionLoad, "read model metadata", err)
	}
	if !ok {
		return nil, newError(KindSessionLoad, "read model metadata",
			errors.New("model has no \"names\" metadata"))
	}

	labels, err := models.ParseMetadataNames(names)
	if err != nil {
		return nil, newError(KindSessionLoad, "read model metadata", err)
	}
	return labels, nil
}
