package model

// AnnotationRegion one labelled region of a recording waveform, in seconds
type AnnotationRegion struct {
	Id    string  `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Label string  `json:"label"`
}
