package scanner

import (
	"errors"
	"fmt"

	"github.com/classtrack/classtrack/pkg/camera"
)

// stubFace is one fake detection within a frame.
type stubFace struct {
	region    camera.Region
	embedding []float32
	embedErr  error
}

// stubEngine fakes the detector/embedder boundary. Faces are keyed by
// frame payload so tests can script what each frame contains.
type stubEngine struct {
	faces     map[string][]stubFace
	detectErr error
}

func newStubEngine() *stubEngine {
	return &stubEngine{faces: make(map[string][]stubFace)}
}

func (e *stubEngine) addFace(frameKey string, face stubFace) {
	e.faces[frameKey] = append(e.faces[frameKey], face)
}

func (e *stubEngine) Detect(frame camera.Frame) ([]camera.Region, error) {
	if e.detectErr != nil {
		return nil, e.detectErr
	}
	var regions []camera.Region
	for _, f := range e.faces[string(frame.Data)] {
		regions = append(regions, f.region)
	}
	return regions, nil
}

func (e *stubEngine) Embed(frame camera.Frame, region camera.Region) ([]float32, error) {
	for _, f := range e.faces[string(frame.Data)] {
		if f.region == region {
			if f.embedErr != nil {
				return nil, f.embedErr
			}
			return f.embedding, nil
		}
	}
	return nil, fmt.Errorf("no face at region %+v", region)
}

var errDetectorDown = errors.New("detector unavailable")
