package model

// Prediction is one detected Braille cell. X and Y are the box center in
// source image pixels.
type Prediction struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

func (p Prediction) Left() float64   { return p.X - p.Width/2 }
func (p Prediction) Top() float64    { return p.Y - p.Height/2 }
func (p Prediction) Right() float64  { return p.X + p.Width/2 }
func (p Prediction) Bottom() float64 { return p.Y + p.Height/2 }
