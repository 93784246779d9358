// Package scene parses and validates JSON scene descriptions and answers,
// for any frame index, which elements are on screen.
//
// A Scene is immutable once parsed. Element variants (text, image, video,
// shape) are resolved at parse time into typed payloads, so renderers never
// see an unknown kind.
package scene

import (
	"math"

	"vidrender/internal/pkg/errors"
)

// DefaultFPS is used when neither the scene nor the caller gives a frame rate.
const DefaultFPS = 30.0

const (
	defaultWidth  = 1080
	defaultHeight = 1080

	// frameEpsilon absorbs float noise in duration*fps (0.1*30 = 3.0000000000000004).
	frameEpsilon = 1e-9
)

// Kind identifies an element variant.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindShape Kind = "shape"
)

// Box is the element geometry in scene pixels.
type Box struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Opacity  float64 `json:"opacity"`
}

// Payload is the kind-specific part of an element. The set of
// implementations is closed.
type Payload interface {
	kind() Kind
}

// TextPayload draws a text run.
type TextPayload struct {
	Text       string  `json:"text"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	Color      string  `json:"color,omitempty"`
	Align      string  `json:"align,omitempty"`
}

// ImagePayload draws a still image.
type ImagePayload struct {
	Src string `json:"src"`
	Fit string `json:"fit,omitempty"`
}

// VideoPayload draws the frame of a video clip at Offset + (t - Start).
type VideoPayload struct {
	Src    string  `json:"src"`
	Offset float64 `json:"offset,omitempty"`
	Muted  bool    `json:"muted,omitempty"`
}

// ShapePayload draws a vector figure.
type ShapePayload struct {
	Shape       string  `json:"shape"`
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

func (TextPayload) kind() Kind  { return KindText }
func (ImagePayload) kind() Kind { return KindImage }
func (VideoPayload) kind() Kind { return KindVideo }
func (ShapePayload) kind() Kind { return KindShape }

// Element is one timed item of the scene.
type Element struct {
	ID      string
	Kind    Kind
	Start   float64
	End     float64
	Box     Box
	Payload Payload
}

// Active reports whether the element is on screen at time t.
func (e Element) Active(t float64) bool {
	return e.Start <= t && t < e.End
}

// Scene is a parsed, validated scene description.
type Scene struct {
	Width      int
	Height     int
	FPS        float64
	Duration   float64
	Frames     int
	Background string
	Elements   []Element
}

// EffectiveFPS returns the scene frame rate, or DefaultFPS when unset.
func (s *Scene) EffectiveFPS() float64 {
	if s.FPS > 0 {
		return s.FPS
	}
	return DefaultFPS
}

// WithFPS returns a copy of the scene rendered at fps. A non-positive fps
// keeps the current rate.
func (s *Scene) WithFPS(fps float64) *Scene {
	c := s.clone()
	if fps > 0 {
		if c.Frames > 0 && fps != c.EffectiveFPS() {
			// An explicit frame count is tied to the fps it was authored at.
			c.Frames = 0
		}
		c.FPS = fps
	}
	return c
}

// FrameCount returns F = ceil(duration * fps). A positive duration always
// yields at least one frame.
func (s *Scene) FrameCount() int {
	if s.Frames > 0 {
		return s.Frames
	}
	return frameCount(s.Duration, s.EffectiveFPS())
}

func frameCount(duration, fps float64) int {
	if !(duration > 0) {
		return 0
	}
	return max(1, int(math.Ceil(duration*fps-frameEpsilon)))
}

// StateAt returns what has to be drawn for frame i.
func (s *Scene) StateAt(i int) (FrameState, error) {
	total := s.FrameCount()
	if i < 0 || i >= total {
		return FrameState{}, errors.Newf(errors.CodeValidation, "frame %d out of range [0, %d)", i, total)
	}

	t := float64(i) / s.EffectiveFPS()
	state := FrameState{
		Index:      i,
		Time:       t,
		Width:      s.Width,
		Height:     s.Height,
		Background: s.Background,
	}
	// Declaration order is paint order: later elements land on top.
	for _, el := range s.Elements {
		if el.Active(t) {
			state.Elements = append(state.Elements, el)
		}
	}
	return state, nil
}

// Sources lists the distinct image and video sources in declaration order.
func (s *Scene) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, el := range s.Elements {
		src := sourceOf(el)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

// MapSources returns a copy of the scene with every image and video source
// passed through fn.
func (s *Scene) MapSources(fn func(src string) (string, error)) (*Scene, error) {
	c := s.clone()
	for i, el := range c.Elements {
		switch p := el.Payload.(type) {
		case ImagePayload:
			src, err := fn(p.Src)
			if err != nil {
				return nil, err
			}
			p.Src = src
			c.Elements[i].Payload = p
		case VideoPayload:
			src, err := fn(p.Src)
			if err != nil {
				return nil, err
			}
			p.Src = src
			c.Elements[i].Payload = p
		}
	}
	return c, nil
}

func (s *Scene) clone() *Scene {
	c := *s
	c.Elements = append([]Element(nil), s.Elements...)
	return &c
}

func sourceOf(el Element) string {
	switch p := el.Payload.(type) {
	case ImagePayload:
		return p.Src
	case VideoPayload:
		return p.Src
	}
	return ""
}
