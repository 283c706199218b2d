package sim

import (
	"math"

	"github.com/nikita-zerofy/hems-emulator/internal/domain"
)

// headroomRateFactor converts a kWh headroom into an instantaneous power cap:
// kWh × 1000 × 4, i.e. the headroom could be exhausted in a quarter hour.
// A modeling simplification, not physics; keep the constant as-is.
const headroomRateFactor = 4

// Flows is the per-cycle allocation result for one dwelling. Derived, never
// persisted. NetGridPowerW is signed (positive = import); BatteryPowerW is
// signed (positive = charging).
type Flows struct {
	SolarToLoadW    float64 `json:"solarToLoadW"`
	SolarToBatteryW float64 `json:"solarToBatteryW"`
	SolarToGridW    float64 `json:"solarToGridW"`
	BatteryToLoadW  float64 `json:"batteryToLoadW"`
	GridToLoadW     float64 `json:"gridToLoadW"`
	GridToBatteryW  float64 `json:"gridToBatteryW"`
	NetGridPowerW   float64 `json:"netGridPowerW"`
	BatteryPowerW   float64 `json:"batteryPowerW"`
}

// BatteryInput is the single battery the allocator considers for a dwelling.
type BatteryInput struct {
	Config domain.BatteryConfig
	State  domain.BatteryState
}

// Allocate distributes solar output across load, battery, and grid in strict
// priority order: solar feeds load first, then the battery (per its control
// mode), then exports; uncovered load falls back to battery discharge (auto
// mode only) and finally grid import. Pure function; nil battery skips all
// battery branches.
func Allocate(solarW, loadW float64, battery *BatteryInput) Flows {
	var f Flows

	// 1. Solar satisfies load directly.
	f.SolarToLoadW = math.Min(solarW, loadW)
	remainingSolar := solarW - f.SolarToLoadW
	remainingLoad := loadW - f.SolarToLoadW

	mode := domain.BatteryModeAuto
	if battery != nil {
		mode = battery.State.Mode
		if !mode.Valid() {
			mode = domain.BatteryModeAuto
		}
	}

	// 2. Battery handling branches on control mode. Force modes pin the
	// battery power for the whole cycle and bypass auto logic entirely.
	if battery != nil {
		cfg, st := battery.Config, battery.State
		switch mode {
		case domain.BatteryModeForceCharge:
			target := math.Min(math.Abs(st.ForcePowerW), cfg.MaxChargePowerW)
			target = math.Min(target, chargeHeadroomW(cfg, st))
			if target > 0 {
				if remainingSolar >= target {
					f.SolarToBatteryW = target
					remainingSolar -= target
				} else {
					f.SolarToBatteryW = remainingSolar
					f.GridToBatteryW = target - remainingSolar
					f.NetGridPowerW += f.GridToBatteryW
					remainingSolar = 0
				}
				f.BatteryPowerW = target
			}

		case domain.BatteryModeForceDischarge:
			target := math.Min(math.Abs(st.ForcePowerW), cfg.MaxDischargePowerW)
			target = math.Min(target, dischargeAvailableW(cfg, st))
			if target > 0 {
				// Forced discharge is sold to the grid, not fed to local load.
				f.BatteryPowerW = -target
				f.NetGridPowerW -= target
			}

		case domain.BatteryModeIdle:
			// Battery power pinned to zero.

		case domain.BatteryModeAuto:
			if remainingSolar > 0 && st.Soc < cfg.MaxSoc {
				charge := math.Min(remainingSolar, cfg.MaxChargePowerW)
				charge = math.Min(charge, chargeHeadroomW(cfg, st))
				if charge > 0 {
					f.SolarToBatteryW = charge
					f.BatteryPowerW = charge
					remainingSolar -= charge
				}
			}
		}
	}

	// 3. Leftover solar is exported.
	if remainingSolar > 0 {
		f.SolarToGridW = remainingSolar
		f.NetGridPowerW -= remainingSolar
	}

	// 4. Leftover load: auto-mode battery discharge first, then grid import.
	if remainingLoad > 0 {
		if battery != nil && mode == domain.BatteryModeAuto {
			discharge := math.Min(remainingLoad, battery.Config.MaxDischargePowerW)
			discharge = math.Min(discharge, dischargeAvailableW(battery.Config, battery.State))
			if discharge > 0 {
				f.BatteryToLoadW = discharge
				f.BatteryPowerW -= discharge
				remainingLoad -= discharge
			}
		}
		if remainingLoad > 0 {
			f.GridToLoadW = remainingLoad
			f.NetGridPowerW += remainingLoad
		}
	}

	return f
}

func chargeHeadroomW(cfg domain.BatteryConfig, st domain.BatteryState) float64 {
	headroomKWh := (cfg.MaxSoc - st.Soc) * cfg.CapacityKWh
	return math.Max(0, headroomKWh*1000*headroomRateFactor)
}

func dischargeAvailableW(cfg domain.BatteryConfig, st domain.BatteryState) float64 {
	availableKWh := (st.Soc - cfg.MinSoc) * cfg.CapacityKWh
	return math.Max(0, availableKWh*1000*headroomRateFactor)
}
