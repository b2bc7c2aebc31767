package models

// Frame dimensions of the split-flap display.
const (
	FrameRows = 6
	FrameCols = 22
)

// Frame is the composed 6×22 character grid pushed to the display device.
// Rows are fixed-width strings padded with spaces; the device renders them
// top to bottom.
type Frame struct {
	Rows [FrameRows]string `json:"rows"`
}

// UpdateType describes how disruptive a frame update is to the display
// animation: major updates re-flap the whole board, minor updates only the
// cells that changed.
type UpdateType string

const (
	UpdateMajor UpdateType = "major"
	UpdateMinor UpdateType = "minor"
)
