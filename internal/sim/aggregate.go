package sim

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/nikita-zerofy/hems-emulator/internal/domain"
	"github.com/nikita-zerofy/hems-emulator/internal/weather"
)

// totalSolarW sums the modeled output of every online solar inverter.
func totalSolarW(devices []domain.Device, sample weather.Sample) float64 {
	var total float64
	for _, d := range devices {
		if d.Kind != domain.KindSolarInverter || !d.Online() {
			continue
		}
		var cfg domain.SolarInverterConfig
		if err := json.Unmarshal(d.Config, &cfg); err != nil {
			log.Error().Err(err).Str("device_id", d.ID).Msg("bad solar inverter config")
			continue
		}
		total += SolarPowerW(sample.IrradianceWM2, cfg.PeakCapacityKW, cfg.Efficiency, sample.TemperatureC, sample.CloudCoverPct)
	}
	return total
}

// totalLoadW sums running appliances and active hot-water heating on top of
// the fixed phantom baseline.
func totalLoadW(devices []domain.Device, phantomLoadW float64) float64 {
	total := phantomLoadW
	for _, d := range devices {
		if !d.Online() {
			continue
		}
		switch d.Kind {
		case domain.KindAppliance:
			var cfg domain.ApplianceConfig
			var st domain.ApplianceState
			if err := decode(d, &cfg, &st); err != nil {
				log.Error().Err(err).Str("device_id", d.ID).Msg("bad appliance payload")
				continue
			}
			if st.IsOn {
				total += cfg.PowerW
			}
		case domain.KindHotWater:
			var cfg domain.HotWaterConfig
			var st domain.HotWaterState
			if err := decode(d, &cfg, &st); err != nil {
				log.Error().Err(err).Str("device_id", d.ID).Msg("bad hot water payload")
				continue
			}
			if st.BoostActive && st.WaterTemperatureC < st.TargetTemperatureC {
				total += cfg.HeatingPowerW
			}
		}
	}
	return total
}

// firstBattery returns the first online battery, which the allocator treats
// as "the" dwelling battery. Additional batteries are ignored on purpose.
func firstBattery(devices []domain.Device) *BatteryInput {
	for _, d := range devices {
		if d.Kind != domain.KindBattery || !d.Online() {
			continue
		}
		var in BatteryInput
		if err := decode(d, &in.Config, &in.State); err != nil {
			log.Error().Err(err).Str("device_id", d.ID).Msg("bad battery payload")
			return nil
		}
		return &in
	}
	return nil
}
