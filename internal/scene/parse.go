package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"vidrender/internal/pkg/errors"
)

type document struct {
	Width      *int         `json:"width"`
	Height     *int         `json:"height"`
	FPS        *float64     `json:"fps"`
	Duration   *float64     `json:"duration"`
	Frames     *int         `json:"frames"`
	Background string       `json:"background"`
	Elements   []rawElement `json:"elements"`
	Pages      []rawPage    `json:"pages"`
}

type rawPage struct {
	ID         string       `json:"id"`
	Duration   *float64     `json:"duration"`
	Background string       `json:"background"`
	Elements   []rawElement `json:"elements"`
}

type rawElement struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Start    *float64 `json:"start"`
	End      *float64 `json:"end"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Rotation float64  `json:"rotation"`
	Opacity  *float64 `json:"opacity"`

	raw json.RawMessage
}

func (r *rawElement) UnmarshalJSON(b []byte) error {
	type plain rawElement
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = rawElement(p)
	r.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Parse decodes and validates a JSON scene description. Every failure is an
// INVALID_SCENE error; nothing is provisioned or rendered here.
func Parse(raw []byte) (*Scene, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.InvalidScene("empty scene document")
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeInvalidScene, "scene.parse", "malformed scene JSON")
	}

	s := &Scene{
		Width:      defaultWidth,
		Height:     defaultHeight,
		Background: doc.Background,
	}

	if doc.Width != nil {
		if *doc.Width <= 0 {
			return nil, errors.InvalidSceneField("width", "must be > 0")
		}
		s.Width = *doc.Width
	}
	if doc.Height != nil {
		if *doc.Height <= 0 {
			return nil, errors.InvalidSceneField("height", "must be > 0")
		}
		s.Height = *doc.Height
	}
	if doc.FPS != nil {
		if !(*doc.FPS > 0) || math.IsInf(*doc.FPS, 0) {
			return nil, errors.InvalidSceneField("fps", "must be > 0")
		}
		s.FPS = *doc.FPS
	}

	if len(doc.Pages) > 0 && len(doc.Elements) > 0 {
		return nil, errors.InvalidScene("use either pages or elements, not both")
	}

	if len(doc.Pages) > 0 {
		if err := s.loadPages(doc); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.loadDuration(doc); err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for i, re := range doc.Elements {
		el, err := buildElement(re, fmt.Sprintf("elements[%d]", i), 0, s.Duration)
		if err != nil {
			return nil, err
		}
		if err := claimID(ids, el.ID, fmt.Sprintf("elements[%d].id", i)); err != nil {
			return nil, err
		}
		s.Elements = append(s.Elements, el)
	}

	return s, nil
}

func (s *Scene) loadDuration(doc document) error {
	switch {
	case doc.Frames != nil:
		if *doc.Frames <= 0 {
			return errors.InvalidSceneField("frames", "must be > 0")
		}
		s.Frames = *doc.Frames
		s.Duration = float64(s.Frames) / s.EffectiveFPS()
		if doc.Duration != nil && frameCount(*doc.Duration, s.EffectiveFPS()) != s.Frames {
			return errors.InvalidSceneField("frames", "disagrees with duration (%g s at %g fps)", *doc.Duration, s.EffectiveFPS())
		}
	case doc.Duration != nil:
		if !(*doc.Duration > 0) || math.IsInf(*doc.Duration, 0) {
			return errors.InvalidSceneField("duration", "must be > 0")
		}
		s.Duration = *doc.Duration
	default:
		return errors.InvalidSceneField("duration", "is required")
	}
	return nil
}

// loadPages flattens pages into one timeline. Element times are page
// relative; a page background becomes a full-frame shape under its elements.
func (s *Scene) loadPages(doc document) error {
	if doc.Duration != nil || doc.Frames != nil {
		return errors.InvalidScene("duration and frames are derived from pages and must not be set")
	}

	ids := make(map[string]bool)
	offset := 0.0
	for pi, page := range doc.Pages {
		path := fmt.Sprintf("pages[%d]", pi)
		if page.Duration == nil || !(*page.Duration > 0) || math.IsInf(*page.Duration, 0) {
			return errors.InvalidSceneField(path+".duration", "must be > 0")
		}
		span := *page.Duration

		if bg := strings.TrimSpace(page.Background); bg != "" {
			s.Elements = append(s.Elements, Element{
				ID:      fmt.Sprintf("%s.background", pageID(page, pi)),
				Kind:    KindShape,
				Start:   offset,
				End:     offset + span,
				Box:     Box{Width: float64(s.Width), Height: float64(s.Height), Opacity: 1},
				Payload: ShapePayload{Shape: "rect", Fill: bg},
			})
		}

		for ei, re := range page.Elements {
			epath := fmt.Sprintf("%s.elements[%d]", path, ei)
			el, err := buildElement(re, epath, offset, span)
			if err != nil {
				return err
			}
			if err := claimID(ids, el.ID, epath+".id"); err != nil {
				return err
			}
			s.Elements = append(s.Elements, el)
		}
		offset += span
	}
	s.Duration = offset
	return nil
}

func pageID(p rawPage, i int) string {
	if p.ID != "" {
		return p.ID
	}
	return fmt.Sprintf("page%d", i)
}

func claimID(ids map[string]bool, id, path string) error {
	if id == "" {
		return nil
	}
	if ids[id] {
		return errors.InvalidSceneField(path, "duplicate element id %q", id)
	}
	ids[id] = true
	return nil
}

// buildElement validates one element against the span [0, span] and shifts it
// by offset onto the scene timeline.
func buildElement(re rawElement, path string, offset, span float64) (Element, error) {
	el := Element{
		ID:   re.ID,
		Kind: Kind(strings.ToLower(strings.TrimSpace(re.Type))),
		Box: Box{
			X:        re.X,
			Y:        re.Y,
			Width:    re.Width,
			Height:   re.Height,
			Rotation: re.Rotation,
			Opacity:  1,
		},
	}
	if re.Opacity != nil {
		if *re.Opacity < 0 || *re.Opacity > 1 {
			return Element{}, errors.InvalidSceneField(path+".opacity", "must be within [0, 1]")
		}
		el.Box.Opacity = *re.Opacity
	}

	start, end := 0.0, span
	if re.Start != nil {
		start = *re.Start
	}
	if re.End != nil {
		end = *re.End
	}
	if start < 0 {
		return Element{}, errors.InvalidSceneField(path+".start", "must be >= 0")
	}
	if end > span {
		return Element{}, errors.InvalidSceneField(path+".end", "must be <= %g", span)
	}
	if !(start < end) {
		return Element{}, errors.InvalidSceneField(path, "start (%g) must be before end (%g)", start, end)
	}
	el.Start, el.End = offset+start, offset+end

	payload, err := decodePayload(el.Kind, re.raw, path)
	if err != nil {
		return Element{}, err
	}
	el.Payload = payload
	return el, nil
}

func decodePayload(kind Kind, raw json.RawMessage, path string) (Payload, error) {
	switch kind {
	case KindText:
		var p TextPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeInvalidScene, "scene.parse", path)
		}
		if strings.TrimSpace(p.Text) == "" {
			return nil, errors.InvalidSceneField(path+".text", "is required")
		}
		return p, nil
	case KindImage:
		var p ImagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeInvalidScene, "scene.parse", path)
		}
		if strings.TrimSpace(p.Src) == "" {
			return nil, errors.InvalidSceneField(path+".src", "is required")
		}
		return p, nil
	case KindVideo:
		var p VideoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeInvalidScene, "scene.parse", path)
		}
		if strings.TrimSpace(p.Src) == "" {
			return nil, errors.InvalidSceneField(path+".src", "is required")
		}
		if p.Offset < 0 {
			return nil, errors.InvalidSceneField(path+".offset", "must be >= 0")
		}
		return p, nil
	case KindShape:
		var p ShapePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeInvalidScene, "scene.parse", path)
		}
		switch p.Shape {
		case "rect", "ellipse", "line":
		case "":
			p.Shape = "rect"
		default:
			return nil, errors.InvalidSceneField(path+".shape", "unknown shape %q", p.Shape)
		}
		return p, nil
	case "":
		return nil, errors.InvalidSceneField(path+".type", "is required")
	default:
		return nil, errors.InvalidSceneField(path+".type", "unknown element type %q", kind)
	}
}
