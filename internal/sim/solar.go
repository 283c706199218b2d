package sim

import "math"

const (
	// Cloud cover derates output linearly, up to 80% at full overcast.
	maxCloudDerate = 0.8
	// Silicon panel temperature coefficient, referenced to 25°C.
	tempCoefficient = -0.004
	tempReferenceC  = 25.0
)

// SolarPowerW maps current conditions and panel config to instantaneous
// output in watts. Pure; negative irradiance clamps to zero output.
func SolarPowerW(irradianceWM2, peakCapacityKW, efficiency, temperatureC, cloudCoverPct float64) float64 {
	effectiveIrradiance := irradianceWM2 * (1 - cloudCoverPct/100*maxCloudDerate)
	tempDerate := 1 + tempCoefficient*(temperatureC-tempReferenceC)
	powerKW := peakCapacityKW * (effectiveIrradiance / 1000) * efficiency * tempDerate
	return math.Max(0, powerKW*1000)
}
