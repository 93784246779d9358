package scene

// FrameState is the scene state one renderer instance needs to draw a single
// frame. Elements are in paint order.
type FrameState struct {
	Index      int
	Time       float64
	Width      int
	Height     int
	Background string
	Elements   []Element
}

// ElementTime returns the time local to the element (seconds since its start).
func (f FrameState) ElementTime(el Element) float64 {
	return f.Time - el.Start
}

// SourceTime returns the position inside a video element's source clip.
func (f FrameState) SourceTime(el Element) float64 {
	if v, ok := el.Payload.(VideoPayload); ok {
		return v.Offset + f.ElementTime(el)
	}
	return f.ElementTime(el)
}
