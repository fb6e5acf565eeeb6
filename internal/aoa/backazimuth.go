package aoa

import "math"

// backAzimuthSample is one scoring-window entry: the measured azimuth
// and the device's yaw motion since the previous sample.
type backAzimuthSample struct {
	azimuth   float64
	yawMotion float64
}

// BackAzimuthResolver disambiguates the front/back azimuth mirror a 1-D
// AoA antenna array cannot resolve on its own (+az vs pi-az). It keeps
// a scoring window correlating each hypothesis's implied azimuth motion
// against the device's own yaw motion: the hypothesis whose motion
// tracks the device's own rotation more closely is more likely wrong
// (a tag directly ahead appears to counter-rotate as the device turns
// toward it; the mirrored tag behind the device would not), so the
// resolver favors the hypothesis with the *weaker* correlation to
// device motion.
type BackAzimuthResolver struct {
	windowSize       int
	noiseCoefficient float64
	confidenceFloor  float64

	window      []backAzimuthSample
	lastAzimuth float64
	haveLast    bool
}

// NewBackAzimuthResolver creates a resolver with the given scoring
// window size, a noise coefficient that damps small correlation
// differences (larger values require a clearer signal before
// committing to the back hypothesis), and a confidence floor below
// which Resolve reports no result.
func NewBackAzimuthResolver(windowSize int, noiseCoefficient, confidenceFloor float64) *BackAzimuthResolver {
	return &BackAzimuthResolver{
		windowSize:       windowSize,
		noiseCoefficient: noiseCoefficient,
		confidenceFloor:  confidenceFloor,
	}
}

// Resolve folds in one (azimuth, deviceYawMotion) sample and returns
// the disambiguated azimuth. confident is false when the scoring
// window has not yet accumulated enough signal to clear the
// confidence floor; callers should mask the output in that case.
func (r *BackAzimuthResolver) Resolve(azimuth, deviceYawMotion float64) (resolved float64, confident bool) {
	r.window = append(r.window, backAzimuthSample{azimuth: azimuth, yawMotion: deviceYawMotion})
	if len(r.window) > r.windowSize {
		r.window = r.window[1:]
	}
	r.lastAzimuth = azimuth
	r.haveLast = true

	if len(r.window) < 2 {
		return azimuth, false
	}

	frontScore := r.correlation(func(s backAzimuthSample) float64 { return s.azimuth })
	backScore := r.correlation(func(s backAzimuthSample) float64 { return math.Pi - s.azimuth })

	diff := math.Abs(frontScore) - math.Abs(backScore)
	confidence := math.Abs(diff) / (r.noiseCoefficient + 1e-9)
	if confidence < r.confidenceFloor {
		return azimuth, false
	}

	if math.Abs(backScore) < math.Abs(frontScore) {
		return normalizeAngle(math.Pi - azimuth), true
	}
	return azimuth, true
}

// correlation computes the Pearson-style correlation between
// hypothesis(sample) deltas across the window and the device's own yaw
// motion over the same span.
func (r *BackAzimuthResolver) correlation(hypothesis func(backAzimuthSample) float64) float64 {
	n := len(r.window)
	if n < 2 {
		return 0
	}
	var sumH, sumM float64
	hVals := make([]float64, n-1)
	mVals := make([]float64, n-1)
	for i := 1; i < n; i++ {
		hVals[i-1] = hypothesis(r.window[i]) - hypothesis(r.window[i-1])
		mVals[i-1] = r.window[i].yawMotion
		sumH += hVals[i-1]
		sumM += mVals[i-1]
	}
	meanH := sumH / float64(n-1)
	meanM := sumM / float64(n-1)

	var cov, varH, varM float64
	for i := range hVals {
		dh := hVals[i] - meanH
		dm := mVals[i] - meanM
		cov += dh * dm
		varH += dh * dh
		varM += dm * dm
	}
	if varH == 0 || varM == 0 {
		return 0
	}
	return cov / math.Sqrt(varH*varM)
}

func normalizeAngle(v float64) float64 {
	const twoPi = 2 * math.Pi
	v = math.Mod(v+math.Pi, twoPi)
	if v <= 0 {
		v += twoPi
	}
	return v - math.Pi
}
