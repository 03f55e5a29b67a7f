package classifier

// Wire models of the shape analysis service.

// BatchInput is the request body.
type BatchInput struct {
	Configuration *Configuration `json:"configuration,omitempty"`
	ContentType   string         `json:"contentType"`
	StrokeGroups  []*StrokeGroup `json:"strokeGroups"`
	Width         int32          `json:"width,omitempty"`
	Height        int32          `json:"height,omitempty"`
}

// Configuration restricts the shapes the service may answer with.
type Configuration struct {
	Shapes []string `json:"shapes,omitempty"`
}

// StrokeGroup is the unit the service analyses together.
type StrokeGroup struct {
	Strokes []*Stroke `json:"strokes"`
}

// Stroke represents a single stroke
type Stroke struct {
	X           []float32 `json:"x"`
	Y           []float32 `json:"y"`
	P           []float32 `json:"p,omitempty"` // Pressure
	T           []int64   `json:"t,omitempty"` // Timestamps
	PointerType string    `json:"pointerType,omitempty"`
}

// BatchOutput is the response body.
type BatchOutput struct {
	Candidates []CandidateOutput `json:"candidates"`
}

type CandidateOutput struct {
	Kind       string        `json:"kind"`
	Confidence float64       `json:"confidence"`
	Points     []PointOutput `json:"points"`
	Bounds     RectOutput    `json:"boundingBox"`
}

type PointOutput struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type RectOutput struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
