package model

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelSpec names the input/output nodes of an exported leaf classifier and the
// number of values it emits per image. Empty names and a zero OutputSize are
// read from the model document itself.
type ModelSpec struct {
	InputName  string
	OutputName string
	OutputSize int64
}

// ErrModelClosed is returned by Predict after Close.
var ErrModelClosed = errors.New("model is closed")

// ONNXModel represents a wrapper for ONNX Runtime model operations.
// Callers always pass NHWC [1, 224, 224, 3] data; models exported channel
// first ([1, 3, 224, 224]) get the input transposed. Output is [1, OutputSize].
type ONNXModel struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensor  *ort.Tensor[float32]
	inputShape    []int64
	outputShape   []int64
	channelsFirst bool
}

// ioLayout is a ModelSpec resolved against the nodes a model declares.
type ioLayout struct {
	inputName     string
	outputName    string
	inputShape    []int64
	outputShape   []int64
	channelsFirst bool
}

var runtimeMu sync.Mutex

// InitRuntime initializes the ONNX Runtime environment once per process.
//
// Parameters:
//   - libraryPath: optional path to the onnxruntime shared library
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// ShutdownRuntime destroys the ONNX Runtime environment if it was initialized.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// NewONNXModel creates a model from a .onnx file on disk.
//
// Parameters:
//   - path: path to the .onnx model file
//   - spec: node names and output size; blanks are taken from the model
//
// Returns:
//   - *ONNXModel: pointer to the created ONNX model
//   - error: error if any occurs during initialization
func NewONNXModel(path string, spec ModelSpec) (*ONNXModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model io info: %w", err)
	}
	layout, err := resolveLayout(spec, inputs, outputs)
	if err != nil {
		return nil, err
	}
	return newONNXModel(layout, func(in, out []ort.ArbitraryTensor, opts *ort.SessionOptions) (*ort.AdvancedSession, error) {
		return ort.NewAdvancedSession(path, []string{layout.inputName}, []string{layout.outputName}, in, out, opts)
	})
}

// NewONNXModelFromBytes creates a model from an in-memory .onnx document,
// typically one just downloaded from the pretrained model URL.
func NewONNXModelFromBytes(onnxData []byte, spec ModelSpec) (*ONNXModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxData)
	if err != nil {
		return nil, fmt.Errorf("failed to read model io info: %w", err)
	}
	layout, err := resolveLayout(spec, inputs, outputs)
	if err != nil {
		return nil, err
	}
	return newONNXModel(layout, func(in, out []ort.ArbitraryTensor, opts *ort.SessionOptions) (*ort.AdvancedSession, error) {
		return ort.NewAdvancedSessionWithONNXData(onnxData, []string{layout.inputName}, []string{layout.outputName}, in, out, opts)
	})
}

// resolveLayout picks the input and output nodes named by spec (or the first
// of each) and fixes their shapes for a batch of one 224x224 RGB image.
func resolveLayout(spec ModelSpec, inputs, outputs []ort.InputOutputInfo) (ioLayout, error) {
	in, err := pickNode("input", spec.InputName, inputs)
	if err != nil {
		return ioLayout{}, err
	}
	out, err := pickNode("output", spec.OutputName, outputs)
	if err != nil {
		return ioLayout{}, err
	}

	dims := in.Dimensions
	if len(dims) != 4 {
		return ioLayout{}, fmt.Errorf("expected 4D input %q, got %v", in.Name, dims)
	}
	layout := ioLayout{inputName: in.Name, outputName: out.Name}
	var spatial []int64
	switch {
	case dims[3] == 3:
		layout.inputShape = []int64{1, InputSize, InputSize, 3}
		spatial = dims[1:3]
	case dims[1] == 3:
		layout.inputShape = []int64{1, 3, InputSize, InputSize}
		layout.channelsFirst = true
		spatial = dims[2:4]
	default:
		return ioLayout{}, fmt.Errorf("input %q has no 3-channel axis: %v", in.Name, dims)
	}
	for _, d := range spatial {
		if d > 0 && d != InputSize {
			return ioLayout{}, fmt.Errorf("input %q expects %v, want %dx%d images", in.Name, dims, InputSize, InputSize)
		}
	}

	size := spec.OutputSize
	if size <= 0 {
		size = 1
		for _, d := range out.Dimensions[min(1, len(out.Dimensions)):] {
			if d <= 0 {
				return ioLayout{}, fmt.Errorf("output %q has dynamic shape %v; set the output size explicitly", out.Name, out.Dimensions)
			}
			size *= d
		}
	}
	layout.outputShape = []int64{1, size}
	return layout, nil
}

func pickNode(kind, name string, nodes []ort.InputOutputInfo) (ort.InputOutputInfo, error) {
	if len(nodes) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model declares no %s", kind)
	}
	if name == "" {
		return nodes[0], nil
	}
	for _, n := range nodes {
		if n.Name == name {
			return n, nil
		}
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no %s %q (have %v)", kind, name, names)
}

type sessionFactory func(inputs, outputs []ort.ArbitraryTensor, opts *ort.SessionOptions) (*ort.AdvancedSession, error)

func newONNXModel(layout ioLayout, create sessionFactory) (*ONNXModel, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	inputTensor, err := ort.NewTensor(ort.NewShape(layout.inputShape...), make([]float32, shapeElements(layout.inputShape)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(layout.outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := create(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf(
			"failed to create session (input %q, output %q): %w",
			layout.inputName, layout.outputName, err,
		)
	}

	return &ONNXModel{
		session:       session,
		inputTensor:   inputTensor,
		outputTensor:  outputTensor,
		inputShape:    layout.inputShape,
		outputShape:   layout.outputShape,
		channelsFirst: layout.channelsFirst,
	}, nil
}

// Predict performs inference with one preprocessed image.
// The session reuses its input and output tensors, so calls are serialized
// and the output is copied out before the lock is released.
//
// Parameters:
//   - input: NHWC float32 data of size 1*224*224*3, values in [0,1]
//
// Returns:
//   - []float32: raw model output (size: OutputSize)
//   - error: error if any occurs during inference
func (m *ONNXModel) Predict(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrModelClosed
	}
	inputData := m.inputTensor.GetData()
	if len(input) != len(inputData) {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", len(inputData), len(input))
	}
	if m.channelsFirst {
		toChannelsFirst(inputData, input)
	} else {
		copy(inputData, input)
	}

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	outputData := m.outputTensor.GetData()
	result := make([]float32, len(outputData))
	copy(result, outputData)
	return result, nil
}

// Close releases the session and its tensors. The runtime environment is
// left alone; see ShutdownRuntime.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		return err
	}
	return nil
}

// GetInputShape returns the shape of the input tensor, [1, 224, 224, 3] or
// [1, 3, 224, 224] for channel-first models.
func (m *ONNXModel) GetInputShape() []int64 {
	return m.inputShape
}

// GetOutputShape returns the shape of the output tensor [1, OutputSize]
func (m *ONNXModel) GetOutputShape() []int64 {
	return m.outputShape
}

// toChannelsFirst writes NHWC src into dst as NCHW for one RGB image.
func toChannelsFirst(dst, src []float32) {
	plane := len(src) / 3
	for i := 0; i < plane; i++ {
		dst[i] = src[i*3]
		dst[plane+i] = src[i*3+1]
		dst[2*plane+i] = src[i*3+2]
	}
}

func shapeElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
