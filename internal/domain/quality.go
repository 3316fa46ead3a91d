package domain

import "strings"

// QualityTier names a bundle of inference parameters trading render time for
// output fidelity.
type QualityTier string

const (
	QualityFast     QualityTier = "fast"
	QualityBalanced QualityTier = "balanced"
	QualityHigh     QualityTier = "high"
)

// TierParams are the per-stage inference parameters selected by a tier.
type TierParams struct {
	InferenceSteps int
	GuidanceScale  float64
	Width          int
	Height         int
	FrameCount     int
	FPS            int
}

var tierParams = map[QualityTier]TierParams{
	QualityFast:     {InferenceSteps: 15, GuidanceScale: 3.0, Width: 512, Height: 512, FrameCount: 14, FPS: 8},
	QualityBalanced: {InferenceSteps: 25, GuidanceScale: 7.5, Width: 1024, Height: 576, FrameCount: 25, FPS: 8},
	QualityHigh:     {InferenceSteps: 35, GuidanceScale: 12.0, Width: 1024, Height: 576, FrameCount: 25, FPS: 8},
}

// ParseQualityTier normalizes a client-supplied tier name. Empty input falls
// back to the fast tier.
func ParseQualityTier(raw string) (QualityTier, bool) {
	switch QualityTier(strings.ToLower(strings.TrimSpace(raw))) {
	case QualityFast, "":
		return QualityFast, true
	case QualityBalanced:
		return QualityBalanced, true
	case QualityHigh:
		return QualityHigh, true
	default:
		return "", false
	}
}

// Params returns the inference parameters for the tier, defaulting to the fast
// tier for unknown values.
func (t QualityTier) Params() TierParams {
	if p, ok := tierParams[t]; ok {
		return p
	}
	return tierParams[QualityFast]
}
