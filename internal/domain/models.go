package domain

import (
	"encoding/json"
	"time"
)

// Dwelling is read-only to the simulation engine; admin edits happen elsewhere.
type Dwelling struct {
	ID       string  `db:"id" json:"id"`
	UserID   string  `db:"user_id" json:"userId"`
	Timezone string  `db:"timezone" json:"timezone"`
	Lat      float64 `db:"lat" json:"lat"`
	Lng      float64 `db:"lng" json:"lng"`
}

type DeviceKind string

const (
	KindSolarInverter DeviceKind = "solar_inverter"
	KindBattery       DeviceKind = "battery"
	KindAppliance     DeviceKind = "appliance"
	KindMeter         DeviceKind = "meter"
	KindHotWater      DeviceKind = "hot_water"
	KindEV            DeviceKind = "ev"
	KindEVCharger     DeviceKind = "ev_charger"
)

// Device carries its kind-specific config and state as raw JSON; decode with
// the typed structs below, switching on Kind. Config is owned by device
// management, state by the simulation engine.
type Device struct {
	ID         string          `db:"id" json:"id"`
	DwellingID string          `db:"dwelling_id" json:"dwellingId"`
	Kind       DeviceKind      `db:"kind" json:"kind"`
	Name       string          `db:"name" json:"name"`
	Config     json.RawMessage `db:"config" json:"config"`
	State      json.RawMessage `db:"state" json:"state"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

// Online reports the shared isOnline flag without decoding the full state.
func (d *Device) Online() bool {
	var s struct {
		IsOnline bool `json:"isOnline"`
	}
	if err := json.Unmarshal(d.State, &s); err != nil {
		return false
	}
	return s.IsOnline
}

// StateUpdate is one element of an atomic batch state replacement.
type StateUpdate struct {
	DeviceID string
	State    json.RawMessage
}

type BatteryMode string

const (
	BatteryModeAuto           BatteryMode = "auto"
	BatteryModeForceCharge    BatteryMode = "force_charge"
	BatteryModeForceDischarge BatteryMode = "force_discharge"
	BatteryModeIdle           BatteryMode = "idle"
)

func (m BatteryMode) Valid() bool {
	switch m {
	case BatteryModeAuto, BatteryModeForceCharge, BatteryModeForceDischarge, BatteryModeIdle:
		return true
	}
	return false
}

type SolarInverterConfig struct {
	PeakCapacityKW float64 `json:"peakCapacityKw"`
	Efficiency     float64 `json:"efficiency"`
}

type SolarInverterState struct {
	PowerW            float64 `json:"powerW"`
	EnergyTodayKWh    float64 `json:"energyTodayKwh"`
	LifetimeEnergyKWh float64 `json:"lifetimeEnergyKwh"`
	IsOnline          bool    `json:"isOnline"`
}

type BatteryConfig struct {
	CapacityKWh        float64 `json:"capacityKwh"`
	MaxChargePowerW    float64 `json:"maxChargePowerW"`
	MaxDischargePowerW float64 `json:"maxDischargePowerW"`
	MinSoc             float64 `json:"minSoc"`
	MaxSoc             float64 `json:"maxSoc"`
	Efficiency         float64 `json:"efficiency"`
}

type BatteryState struct {
	PowerW       float64     `json:"powerW"`
	Soc          float64     `json:"soc"`
	IsCharging   bool        `json:"isCharging"`
	TemperatureC float64     `json:"temperatureC"`
	Mode         BatteryMode `json:"mode"`
	ForcePowerW  float64     `json:"forcePowerW"`
	IsOnline     bool        `json:"isOnline"`
}

type ApplianceConfig struct {
	PowerW            float64 `json:"powerW"`
	Controllable      bool    `json:"controllable"`
	ToggleProbability float64 `json:"toggleProbability"`
}

type ApplianceState struct {
	IsOn           bool    `json:"isOn"`
	PowerW         float64 `json:"powerW"`
	EnergyTodayKWh float64 `json:"energyTodayKwh"`
	IsOnline       bool    `json:"isOnline"`
}

type MeterConfig struct {
	GridConnectionKW float64 `json:"gridConnectionKw"`
}

type MeterState struct {
	PowerW            float64 `json:"powerW"`
	ImportTodayKWh    float64 `json:"importTodayKwh"`
	ExportTodayKWh    float64 `json:"exportTodayKwh"`
	LifetimeImportKWh float64 `json:"lifetimeImportKwh"`
	LifetimeExportKWh float64 `json:"lifetimeExportKwh"`
	IsOnline          bool    `json:"isOnline"`
}

type HotWaterConfig struct {
	TankCapacityL       float64 `json:"tankCapacityL"`
	HeatingPowerW       float64 `json:"heatingPowerW"`
	StandbyLossPerHourC float64 `json:"standbyLossPerHourC"`
	MinTemperatureC     float64 `json:"minTemperatureC"`
	MaxTemperatureC     float64 `json:"maxTemperatureC"`
}

type HotWaterState struct {
	WaterTemperatureC  float64 `json:"waterTemperatureC"`
	TargetTemperatureC float64 `json:"targetTemperatureC"`
	BoostActive        bool    `json:"boostActive"`
	PowerW             float64 `json:"powerW"`
	EnergyTodayKWh     float64 `json:"energyTodayKwh"`
	IsOnline           bool    `json:"isOnline"`
}

type EVChargerConfig struct {
	MinPowerW float64 `json:"minPowerW"`
	MaxPowerW float64 `json:"maxPowerW"`
}

type EVChargerState struct {
	IsCharging     bool    `json:"isCharging"`
	TargetPowerW   float64 `json:"targetPowerW"`
	PowerW         float64 `json:"powerW"`
	EnergyTodayKWh float64 `json:"energyTodayKwh"`
	IsOnline       bool    `json:"isOnline"`
}

type EVConfig struct {
	BatteryCapacityKWh float64 `json:"batteryCapacityKwh"`
	MaxChargePowerW    float64 `json:"maxChargePowerW"`
}

type EVState struct {
	Soc            float64 `json:"soc"`
	IsCharging     bool    `json:"isCharging"`
	ChargePowerW   float64 `json:"chargePowerW"`
	PowerW         float64 `json:"powerW"`
	EnergyTodayKWh float64 `json:"energyTodayKwh"`
	IsOnline       bool    `json:"isOnline"`
}
