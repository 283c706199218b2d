// Seeds the database with a demo dwelling carrying one device of every kind,
// so a fresh install has something to simulate.
package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nikita-zerofy/hems-emulator/internal/config"
	"github.com/nikita-zerofy/hems-emulator/internal/database"
	"github.com/nikita-zerofy/hems-emulator/internal/domain"
	"github.com/nikita-zerofy/hems-emulator/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS dwellings (
	id       TEXT PRIMARY KEY,
	user_id  TEXT NOT NULL,
	timezone TEXT NOT NULL,
	lat      DOUBLE PRECISION NOT NULL,
	lng      DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS devices (
	id          TEXT PRIMARY KEY,
	dwelling_id TEXT NOT NULL REFERENCES dwellings(id),
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	config      JSONB NOT NULL,
	state       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS devices_dwelling_idx ON devices(dwelling_id);
`

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		log.Fatal().Err(err).Msg("schema create failed")
	}

	repos := repository.New(db)

	dwelling := &domain.Dwelling{
		ID:       uuid.NewString(),
		UserID:   "demo-user",
		Timezone: "Europe/Berlin",
		Lat:      52.52,
		Lng:      13.405,
	}
	if err := repos.InsertDwelling(dwelling); err != nil {
		log.Fatal().Err(err).Msg("insert dwelling failed")
	}

	devices := []struct {
		kind   domain.DeviceKind
		name   string
		config any
		state  any
	}{
		{
			domain.KindSolarInverter, "Rooftop PV",
			domain.SolarInverterConfig{PeakCapacityKW: 8, Efficiency: 0.92},
			domain.SolarInverterState{IsOnline: true},
		},
		{
			domain.KindBattery, "Home Battery",
			domain.BatteryConfig{CapacityKWh: 13.5, MaxChargePowerW: 5000, MaxDischargePowerW: 5000, MinSoc: 0.1, MaxSoc: 1.0, Efficiency: 0.95},
			domain.BatteryState{Soc: 0.5, Mode: domain.BatteryModeAuto, TemperatureC: 20, IsOnline: true},
		},
		{
			domain.KindMeter, "Grid Meter",
			domain.MeterConfig{GridConnectionKW: 22},
			domain.MeterState{IsOnline: true},
		},
		{
			domain.KindAppliance, "Fridge",
			domain.ApplianceConfig{PowerW: 150, Controllable: false, ToggleProbability: 0.05},
			domain.ApplianceState{IsOn: true, IsOnline: true},
		},
		{
			domain.KindAppliance, "Washing Machine",
			domain.ApplianceConfig{PowerW: 2000, Controllable: true},
			domain.ApplianceState{IsOnline: true},
		},
		{
			domain.KindHotWater, "Hot Water Tank",
			domain.HotWaterConfig{TankCapacityL: 200, HeatingPowerW: 2000, StandbyLossPerHourC: 0.5, MinTemperatureC: 10, MaxTemperatureC: 75},
			domain.HotWaterState{WaterTemperatureC: 45, TargetTemperatureC: 55, IsOnline: true},
		},
		{
			domain.KindEVCharger, "Wallbox",
			domain.EVChargerConfig{MinPowerW: 1400, MaxPowerW: 11000},
			domain.EVChargerState{IsOnline: true},
		},
		{
			domain.KindEV, "EV",
			domain.EVConfig{BatteryCapacityKWh: 60, MaxChargePowerW: 11000},
			domain.EVState{Soc: 0.6, IsOnline: true},
		},
	}

	now := time.Now().UTC()
	for _, def := range devices {
		cfgRaw, err := json.Marshal(def.config)
		if err != nil {
			log.Fatal().Err(err).Str("name", def.name).Msg("marshal config failed")
		}
		stRaw, err := json.Marshal(def.state)
		if err != nil {
			log.Fatal().Err(err).Str("name", def.name).Msg("marshal state failed")
		}
		d := &domain.Device{
			ID:         uuid.NewString(),
			DwellingID: dwelling.ID,
			Kind:       def.kind,
			Name:       def.name,
			Config:     cfgRaw,
			State:      stRaw,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repos.InsertDevice(d); err != nil {
			log.Fatal().Err(err).Str("name", def.name).Msg("insert device failed")
		}
	}

	log.Info().Str("dwelling_id", dwelling.ID).Int("devices", len(devices)).Msg("seed complete")
}
