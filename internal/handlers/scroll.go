package handlers

// ScrollPosition is a scroll report from the view: the current offset from the top, the height of the
// visible viewport and the height of the whole content, all in the same unit.
type ScrollPosition struct {
	Offset   float64
	Viewport float64
	Content  float64
}

// scrollTolerance absorbs rounding of fractional offsets.
const scrollTolerance = 1

// autoScroller remembers whether the user moved away from the bottom of the transcript.
type autoScroller struct {
	scrolledAway bool
}

func (a *autoScroller) observe(pos ScrollPosition) {
	a.scrolledAway = pos.Content-(pos.Offset+pos.Viewport) > scrollTolerance
}

// OnScroll records a scroll report. Auto-scroll stays suspended while the user is away from the bottom and
// resumes once they return within the tolerance.
func (r *Renderer) OnScroll(pos ScrollPosition) {
	r.scroll.observe(pos)
}

// handleNewMessage follows the newest message after every append or content update, unless the user is
// reading further up.
func (r *Renderer) handleNewMessage() {
	if r.scroll.scrolledAway {
		return
	}
	r.display.ScrollToBottom()
}
