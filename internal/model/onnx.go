package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the onnxruntime shared library and the graph's
// input/output names for the full model artifact.
type ONNXConfig struct {
	LibraryPath string
	InputName   string
	OutputName  string
}

// onnxNetwork runs a full serialized model through onnxruntime. The session
// is bound to a single pair of tensors, so Forward calls are serialised.
type onnxNetwork struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// LoadONNX opens a full model artifact. Only the inference graph is used;
// training state carried by the file is ignored by the runtime.
func LoadONNX(modelPath string, cfg ONNXConfig) (Network, error) {
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputShape := ort.NewShape(1, InputHeight, InputWidth, InputChannels)
	outputShape := ort.NewShape(1, NumClasses)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxNetwork{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (n *onnxNetwork) Forward(input *Tensor) ([]float32, error) {
	if err := input.ValidateInput(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	copy(n.inputTensor.GetData(), input.Data)
	if err := n.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, NumClasses)
	copy(out, n.outputTensor.GetData())
	return out, nil
}

func (n *onnxNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.inputTensor != nil {
		n.inputTensor.Destroy()
	}
	if n.outputTensor != nil {
		n.outputTensor.Destroy()
	}
	if n.session != nil {
		n.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
