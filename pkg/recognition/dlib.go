// Package recognition implements the detector/embedder boundary with
// dlib via go-face. Detection, landmark extraction, and embedding
// happen in one pass per frame; the engine caches that pass so the
// scanner's detect-then-embed calls do not re-run the model.
package recognition

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kagami/go-face"

	"github.com/classtrack/classtrack/pkg/camera"
	"github.com/classtrack/classtrack/pkg/logging"
)

// EmbeddingDim is the length of the dlib face descriptor.
const EmbeddingDim = 128

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when exactly one face was expected.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrUnknownRegion is returned when Embed is asked about a region the
// preceding Detect did not report.
var ErrUnknownRegion = errors.New("no embedding for region")

// DlibEngine wraps a go-face recognizer. It serves one recognition
// stream; calls are serialized internally.
type DlibEngine struct {
	mu     sync.Mutex
	rec    *face.Recognizer
	loaded bool

	// Results of the last analyzed frame, so Embed after Detect is a
	// lookup instead of a second model pass.
	lastStamp time.Time
	lastSize  int
	lastFaces map[camera.Region][]float32
}

// NewEngine creates an engine with no models loaded.
func NewEngine() *DlibEngine {
	return &DlibEngine{}
}

// LoadModels loads the dlib models from the given directory. The
// directory must contain the shape predictor and the resnet face
// recognition model.
func (e *DlibEngine) LoadModels(modelPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	logging.Component("recognition").Infof("Loading dlib models from %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	e.rec = rec
	e.loaded = true
	return nil
}

// Close releases the recognizer resources.
func (e *DlibEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	e.loaded = false
	return nil
}

// Detect locates faces in a JPEG frame and caches their descriptors
// for subsequent Embed calls.
func (e *DlibEngine) Detect(frame camera.Frame) ([]camera.Region, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.analyzeLocked(frame); err != nil {
		return nil, err
	}

	regions := make([]camera.Region, 0, len(e.lastFaces))
	for region := range e.lastFaces {
		regions = append(regions, region)
	}
	return regions, nil
}

// Embed returns the descriptor for a region reported by the preceding
// Detect on the same frame. A different frame triggers a fresh
// analysis.
func (e *DlibEngine) Embed(frame camera.Frame, region camera.Region) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cachedLocked(frame) {
		if err := e.analyzeLocked(frame); err != nil {
			return nil, err
		}
	}

	emb, ok := e.lastFaces[region]
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrUnknownRegion, region)
	}
	return emb, nil
}

// EmbedSingle analyzes a frame expected to contain exactly one face and
// returns its embedding. Used by enrollment capture.
func (e *DlibEngine) EmbedSingle(frame camera.Frame) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.analyzeLocked(frame); err != nil {
		return nil, err
	}

	if len(e.lastFaces) == 0 {
		return nil, ErrNoFaceDetected
	}
	if len(e.lastFaces) > 1 {
		return nil, ErrMultipleFaces
	}
	var emb []float32
	for _, v := range e.lastFaces {
		emb = v
	}
	return emb, nil
}

// cachedLocked reports whether the last analysis covered this frame.
func (e *DlibEngine) cachedLocked(frame camera.Frame) bool {
	return e.lastFaces != nil &&
		e.lastStamp.Equal(frame.Timestamp) &&
		e.lastSize == len(frame.Data)
}

// analyzeLocked runs one detection+embedding pass and caches the
// results. Callers hold e.mu.
func (e *DlibEngine) analyzeLocked(frame camera.Frame) error {
	if !e.loaded {
		return ErrModelNotLoaded
	}

	faces, err := e.rec.Recognize(frame.Data)
	if err != nil {
		return fmt.Errorf("face detection failed: %w", err)
	}

	results := make(map[camera.Region][]float32, len(faces))
	for _, f := range faces {
		rect := f.Rectangle
		region := camera.Region{
			X:      rect.Min.X,
			Y:      rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
		}
		emb := make([]float32, EmbeddingDim)
		copy(emb, f.Descriptor[:])
		results[region] = emb
	}

	e.lastStamp = frame.Timestamp
	e.lastSize = len(frame.Data)
	e.lastFaces = results

	logging.Component("recognition").Debugf("Detected %d face(s) in frame", len(results))
	return nil
}
