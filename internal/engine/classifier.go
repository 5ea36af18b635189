// Package engine implements the per-frame analysis: pixel classification, cluster confirmation,
// spot sizing, pattern labelling, motion differencing and confidence scoring.
package engine

// Fixed thresholds of the IR signature rule.
const (
	irMinRed   = 200
	irMaxGreen = 100
	irMaxBlue  = 100

	// brightThreshold is the mean channel brightness a window pixel must exceed to count as bright.
	brightThreshold = 200
)

// Brightness is the mean of the three colour channels.
func Brightness(r, g, b uint8) float64 {
	return (float64(r) + float64(g) + float64(b)) / 3
}

// isIRRed matches the saturated-red look of a near-infrared emitter seen through a phone sensor.
func isIRRed(r, g, b uint8) bool {
	return r > irMinRed && g < irMaxGreen && b < irMaxBlue
}

// IsIRCandidate applies the IR-mode anchor rule. The brightness bar is 255*sensitivity, so a
// higher sensitivity admits fewer non-red pixels.
func IsIRCandidate(r, g, b uint8, sensitivity float64) bool {
	return isIRRed(r, g, b) || Brightness(r, g, b) > 255*sensitivity
}

// IsBright is the window test shared by the cluster analyzer and the size estimator.
// IR-red pixels count as bright even though their channel mean is low.
func IsBright(r, g, b uint8) bool {
	return Brightness(r, g, b) > brightThreshold || isIRRed(r, g, b)
}
