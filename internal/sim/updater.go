package sim

import (
	"encoding/json"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/nikita-zerofy/hems-emulator/internal/domain"
	"github.com/nikita-zerofy/hems-emulator/internal/weather"
)

// Specific heat of water in J/(kg·°C); tank liters are treated as kilograms.
const specificHeatJPerKgC = 4186

// UpdateStates applies the allocation result and per-kind dynamics to every
// device of a dwelling, returning device copies carrying the new states.
// Offline devices pass through unchanged but stay in the result so the batch
// write covers the whole dwelling. Only the first battery and first meter
// receive the allocator's flows; any extras pass through untouched.
// An undecodable or unknown device is skipped with a log, never fatal.
func UpdateStates(devices []domain.Device, flows Flows, sample weather.Sample, cycleSeconds float64, resetDaily bool, rng *rand.Rand) []domain.Device {
	out := make([]domain.Device, 0, len(devices))
	batterySeen, meterSeen := false, false

	for _, d := range devices {
		if !d.Online() {
			out = append(out, d)
			continue
		}

		var (
			newState any
			err      error
		)
		switch d.Kind {
		case domain.KindSolarInverter:
			newState, err = updateSolarInverter(d, sample, cycleSeconds, resetDaily)
		case domain.KindBattery:
			if batterySeen {
				out = append(out, d)
				continue
			}
			batterySeen = true
			newState, err = updateBattery(d, flows, sample, cycleSeconds, rng)
		case domain.KindMeter:
			if meterSeen {
				out = append(out, d)
				continue
			}
			meterSeen = true
			newState, err = updateMeter(d, flows, cycleSeconds, resetDaily)
		case domain.KindAppliance:
			newState, err = updateAppliance(d, cycleSeconds, resetDaily, rng)
		case domain.KindHotWater:
			newState, err = updateHotWater(d, cycleSeconds, resetDaily)
		case domain.KindEVCharger:
			newState, err = updateEVCharger(d, cycleSeconds, resetDaily)
		case domain.KindEV:
			newState, err = updateEV(d, cycleSeconds, resetDaily)
		default:
			log.Error().Str("device_id", d.ID).Str("kind", string(d.Kind)).Msg("unknown device kind, skipping")
			out = append(out, d)
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("device_id", d.ID).Str("kind", string(d.Kind)).Msg("device state update failed, skipping")
			out = append(out, d)
			continue
		}

		raw, err := json.Marshal(newState)
		if err != nil {
			log.Error().Err(err).Str("device_id", d.ID).Msg("marshal device state failed, skipping")
			out = append(out, d)
			continue
		}
		d.State = raw
		out = append(out, d)
	}
	return out
}

func updateSolarInverter(d domain.Device, sample weather.Sample, cycleSeconds float64, resetDaily bool) (domain.SolarInverterState, error) {
	var cfg domain.SolarInverterConfig
	var st domain.SolarInverterState
	if err := decode(d, &cfg, &st); err != nil {
		return st, err
	}

	st.PowerW = SolarPowerW(sample.IrradianceWM2, cfg.PeakCapacityKW, cfg.Efficiency, sample.TemperatureC, sample.CloudCoverPct)
	if resetDaily {
		st.EnergyTodayKWh = 0
	}
	increment := energyKWh(st.PowerW, cycleSeconds)
	st.EnergyTodayKWh += increment
	st.LifetimeEnergyKWh += increment
	return st, nil
}

func updateBattery(d domain.Device, flows Flows, sample weather.Sample, cycleSeconds float64, rng *rand.Rand) (domain.BatteryState, error) {
	var cfg domain.BatteryConfig
	var st domain.BatteryState
	if err := decode(d, &cfg, &st); err != nil {
		return st, err
	}

	if cfg.CapacityKWh > 0 {
		deltaSoc := energyKWh(flows.BatteryPowerW, cycleSeconds) / cfg.CapacityKWh * cfg.Efficiency
		st.Soc = clamp(st.Soc+deltaSoc, cfg.MinSoc, cfg.MaxSoc)
	}
	st.PowerW = flows.BatteryPowerW
	st.IsCharging = flows.BatteryPowerW > 0
	st.TemperatureC = sample.TemperatureC + (rng.Float64()*4 - 2)
	return st, nil
}

func updateMeter(d domain.Device, flows Flows, cycleSeconds float64, resetDaily bool) (domain.MeterState, error) {
	var cfg domain.MeterConfig
	var st domain.MeterState
	if err := decode(d, &cfg, &st); err != nil {
		return st, err
	}

	st.PowerW = flows.NetGridPowerW
	if resetDaily {
		st.ImportTodayKWh = 0
		st.ExportTodayKWh = 0
	}
	if flows.NetGridPowerW > 0 {
		increment := energyKWh(flows.NetGridPowerW, cycleSeconds)
		st.ImportTodayKWh += increment
		st.LifetimeImportKWh += increment
	} else if flows.NetGridPowerW < 0 {
		increment := energyKWh(-flows.NetGridPowerW, cycleSeconds)
		st.ExportTodayKWh += increment
		st.LifetimeExportKWh += increment
	}
	return st, nil
}

func updateAppliance(d domain.Device, cycleSeconds float64, resetDaily bool, rng *rand.Rand) (domain.ApplianceState, error) {
	var cfg domain.ApplianceConfig
	var st domain.ApplianceState
	if err := decode(d, &cfg, &st); err != nil {
		return st, err
	}

	// Controllable appliances toggle only via control commands.
	if !cfg.Controllable && cfg.ToggleProbability > 0 && rng.Float64() < cfg.ToggleProbability {
		st.IsOn = !st.IsOn
	}
	if st.IsOn {
		st.PowerW = cfg.PowerW
	} else {
		st.PowerW = 0
	}
	if resetDaily {
		st.EnergyTodayKWh = 0
	}
	st.EnergyTodayKWh += energyKWh(st.PowerW, cycleSeconds)
	return st, nil
}

func updateHotWater(d domain.Device, cycleSeconds float64, resetDaily bool) (domain.HotWaterState, error) {
	var cfg domain.HotWaterConfig
	var st domain.HotWaterState
	if err := decode(d, &cfg, &st); err != nil {
		return st, err
	}

	if st.BoostActive && st.WaterTemperatureC < st.TargetTemperatureC {
		st.PowerW = cfg.HeatingPowerW
		if cfg.TankCapacityL > 0 {
			deltaT := (cfg.HeatingPowerW * cycleSeconds) / (cfg.TankCapacityL * specificHeatJPerKgC)
			st.WaterTemperatureC = math.Min(st.WaterTemperatureC+deltaT, st.TargetTemperatureC)
		}
	} else {
		st.PowerW = 0
		st.WaterTemperatureC -= cfg.StandbyLossPerHourC / 3600 * cycleSeconds
	}
	st.WaterTemperatureC = clamp(st.WaterTemperatureC, cfg.MinTemperatureC, cfg.MaxTemperatureC)

	if resetDaily {
		st.EnergyTodayKWh = 0
	}
	st.EnergyTodayKWh += energyKWh(st.PowerW, cycleSeconds)
	return st, nil
}

func updateEVCharger(d domain.Device, cycleSeconds float64, resetDaily bool) (domain.EVChargerState, error) {
	var cfg domain.EVChargerConfig
	var st domain.EVChargerState
	if err := decode(d, &cfg, &st); err != nil {
		return st, err
	}

	if st.IsCharging {
		st.PowerW = clamp(st.TargetPowerW, cfg.MinPowerW, cfg.MaxPowerW)
	} else {
		st.PowerW = 0
	}
	if resetDaily {
		st.EnergyTodayKWh = 0
	}
	st.EnergyTodayKWh += energyKWh(st.PowerW, cycleSeconds)
	return st, nil
}

func updateEV(d domain.Device, cycleSeconds float64, resetDaily bool) (domain.EVState, error) {
	var cfg domain.EVConfig
	var st domain.EVState
	if err := decode(d, &cfg, &st); err != nil {
		return st, err
	}

	if st.IsCharging {
		st.PowerW = math.Min(st.ChargePowerW, cfg.MaxChargePowerW)
		if cfg.BatteryCapacityKWh > 0 {
			st.Soc = math.Min(1, st.Soc+energyKWh(st.PowerW, cycleSeconds)/cfg.BatteryCapacityKWh)
			if st.Soc >= 1 {
				st.IsCharging = false
			}
		}
	} else {
		st.PowerW = 0
	}
	if resetDaily {
		st.EnergyTodayKWh = 0
	}
	st.EnergyTodayKWh += energyKWh(st.PowerW, cycleSeconds)
	return st, nil
}

func decode(d domain.Device, cfg, st any) error {
	if err := json.Unmarshal(d.Config, cfg); err != nil {
		return err
	}
	return json.Unmarshal(d.State, st)
}

// energyKWh converts a power held for a cycle into kWh.
func energyKWh(powerW, seconds float64) float64 {
	return powerW / 1000 * seconds / 3600
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
