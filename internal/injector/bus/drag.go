package bus

// DragTracker de-duplicates nested dragenter/dragleave pairs. Entering a child
// of the drop zone fires another dragenter before the dragleave of the parent,
// so only the first enter and the matching last leave are reported.
type DragTracker struct {
	depth int
}

// Enter records a dragenter and reports whether it started a drag over the zone.
func (d *DragTracker) Enter() bool {
	d.depth++
	return d.depth == 1
}

// Leave records a dragleave and reports whether the drag left the zone.
func (d *DragTracker) Leave() bool {
	if d.depth == 0 {
		return false
	}
	d.depth--
	return d.depth == 0
}

// Reset ends the drag, as a drop does.
func (d *DragTracker) Reset() { d.depth = 0 }

// Depth returns the current nesting level.
func (d *DragTracker) Depth() int { return d.depth }
