package detection

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

type ONNXOptions struct {
	ModelPath     string
	LabelsPath    string
	SharedLibPath string
	InputSize     int
	Confidence    float64
	Overlap       float64
}

// ONNXEngine runs a YOLO-style detector locally. The model takes a
// [1, 3, S, S] RGB tensor scaled to [0, 1] and emits [1, 4+C, N] rows of
// center boxes followed by per-class scores.
type ONNXEngine struct {
	mu sync.Mutex

	opt ONNXOptions

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	anchors int
	inited  bool
}

func NewONNXEngine(opt ONNXOptions) *ONNXEngine {
	if opt.InputSize <= 0 {
		opt.InputSize = 640
	}
	if opt.Overlap <= 0 {
		opt.Overlap = 0.45
	}
	return &ONNXEngine{opt: opt}
}

func (e *ONNXEngine) Name() string { return "onnx" }

// init loads the runtime, labels and session on first use. Callers hold e.mu.
func (e *ONNXEngine) init() error {
	if e.inited {
		return nil
	}

	if e.opt.SharedLibPath != "" {
		ort.SetSharedLibraryPath(e.opt.SharedLibPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx init environment: %w", err)
		}
	}

	labels, err := loadLabels(e.opt.LabelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	e.labels = labels

	inputs, outputs, err := ort.GetInputOutputInfo(e.opt.ModelPath)
	if err != nil {
		return fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("onnx model has no inputs or outputs")
	}

	size := int64(e.opt.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("onnx new input tensor: %w", err)
	}

	outShape := append(ort.Shape{}, outputs[0].Dimensions...)
	if len(outShape) == 3 && outShape[0] <= 0 {
		outShape[0] = 1
	}
	if len(outShape) != 3 || outShape[1] < 5 || outShape[2] <= 0 {
		inputTensor.Destroy()
		return fmt.Errorf("unexpected onnx output shape %v", outShape)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("onnx new output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(e.opt.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		return fmt.Errorf("onnx new session: %w", err)
	}

	e.input = inputTensor
	e.output = outputTensor
	e.session = session
	e.anchors = int(outShape[2])
	e.inited = true
	return nil
}

func (e *ONNXEngine) Detect(ctx context.Context, imagePath string) (*Result, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image failed: %w", err)
	}
	img, err := decodeImage(raw)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.init(); err != nil {
		return nil, err
	}

	copy(e.input.GetData(), preprocess(img, e.opt.InputSize))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	bounds := img.Bounds()
	boxes := decodeYOLO(e.output.GetData(), e.anchors, e.labels, e.opt.Confidence,
		float64(bounds.Dx())/float64(e.opt.InputSize), float64(bounds.Dy())/float64(e.opt.InputSize))

	return &Result{
		Image:       ImageInfo{Width: bounds.Dx(), Height: bounds.Dy()},
		Predictions: nonMaxSuppression(boxes, e.opt.Overlap),
	}, nil
}

// Close releases the session and tensors.
func (e *ONNXEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inited {
		return
	}
	e.session.Destroy()
	e.input.Destroy()
	e.output.Destroy()
	e.inited = false
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// preprocess stretches img to size x size and lays it out as NCHW floats in [0, 1].
func preprocess(img image.Image, size int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			idx := y*size + x
			c := dst.RGBAAt(x, y)
			out[idx] = float32(c.R) / 255.0
			out[plane+idx] = float32(c.G) / 255.0
			out[2*plane+idx] = float32(c.B) / 255.0
		}
	}
	return out
}

// decodeYOLO reads a flattened [1, 4+C, N] output. Boxes are scaled back to
// source pixels with sx and sy.
func decodeYOLO(out []float32, anchors int, labels []string, minConf, sx, sy float64) []RawPrediction {
	if anchors <= 0 || len(out) < 5*anchors {
		return nil
	}
	classes := len(out)/anchors - 4

	var preds []RawPrediction
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < classes; c++ {
			if s := out[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || float64(bestScore) < minConf {
			continue
		}
		label := ""
		if best < len(labels) {
			label = labels[best]
		}
		preds = append(preds, RawPrediction{
			X:          float64(out[i]) * sx,
			Y:          float64(out[anchors+i]) * sy,
			Width:      float64(out[2*anchors+i]) * sx,
			Height:     float64(out[3*anchors+i]) * sy,
			Class:      label,
			ClassID:    best,
			Confidence: float64(bestScore),
		})
	}
	return preds
}

// nonMaxSuppression keeps the highest scoring box among same-class boxes
// overlapping by more than iouThreshold.
func nonMaxSuppression(preds []RawPrediction, iouThreshold float64) []RawPrediction {
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Confidence > preds[j].Confidence })

	kept := make([]RawPrediction, 0, len(preds))
	for _, p := range preds {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == p.ClassID && iou(k, p) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, p)
		}
	}
	return kept
}

func iou(a, b RawPrediction) float64 {
	left := max(a.X-a.Width/2, b.X-b.Width/2)
	top := max(a.Y-a.Height/2, b.Y-b.Height/2)
	right := min(a.X+a.Width/2, b.X+b.Width/2)
	bottom := min(a.Y+a.Height/2, b.Y+b.Height/2)
	if right <= left || bottom <= top {
		return 0
	}
	inter := (right - left) * (bottom - top)
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
