package http

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/gofiber/fiber/v2"

	"github.com/nikita-zerofy/hems-emulator/internal/domain"
	"github.com/nikita-zerofy/hems-emulator/internal/repository"
)

// Register mounts the read endpoints plus the control commands whose effect
// is consumed by the simulation engine on its next cycle.
func Register(app *fiber.App, repos *repository.Repos) {
	g := app.Group("/")
	g.Get("dwellings", func(c *fiber.Ctx) error {
		items, err := repos.ListDwellings()
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})
	g.Get("dwellings/:id/devices", func(c *fiber.Ctx) error {
		items, err := repos.DevicesForDwelling(c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})
	g.Get("devices/:id", func(c *fiber.Ctx) error {
		d, err := repos.GetDevice(c.Params("id"))
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "device not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(d)
	})

	g.Post("devices/:id/battery-mode", func(c *fiber.Ctx) error {
		var req struct {
			Mode        domain.BatteryMode `json:"mode"`
			ForcePowerW float64            `json:"forcePowerW"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "bad request body"})
		}
		if !req.Mode.Valid() {
			return c.Status(400).JSON(fiber.Map{"error": "unknown battery mode"})
		}
		return controlDevice(c, repos, domain.KindBattery, func(d *domain.Device) error {
			var st domain.BatteryState
			if err := json.Unmarshal(d.State, &st); err != nil {
				return err
			}
			st.Mode = req.Mode
			st.ForcePowerW = req.ForcePowerW
			return setState(d, st)
		})
	})

	g.Post("devices/:id/switch", func(c *fiber.Ctx) error {
		var req struct {
			On bool `json:"on"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "bad request body"})
		}
		return controlDevice(c, repos, domain.KindAppliance, func(d *domain.Device) error {
			var cfg domain.ApplianceConfig
			var st domain.ApplianceState
			if err := json.Unmarshal(d.Config, &cfg); err != nil {
				return err
			}
			if err := json.Unmarshal(d.State, &st); err != nil {
				return err
			}
			if !cfg.Controllable {
				return errNotControllable
			}
			st.IsOn = req.On
			return setState(d, st)
		})
	})

	g.Post("devices/:id/boost", func(c *fiber.Ctx) error {
		var req struct {
			Active             bool     `json:"active"`
			TargetTemperatureC *float64 `json:"targetTemperatureC"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "bad request body"})
		}
		return controlDevice(c, repos, domain.KindHotWater, func(d *domain.Device) error {
			var cfg domain.HotWaterConfig
			var st domain.HotWaterState
			if err := json.Unmarshal(d.Config, &cfg); err != nil {
				return err
			}
			if err := json.Unmarshal(d.State, &st); err != nil {
				return err
			}
			st.BoostActive = req.Active
			if req.TargetTemperatureC != nil {
				st.TargetTemperatureC = clamp(*req.TargetTemperatureC, cfg.MinTemperatureC, cfg.MaxTemperatureC)
			}
			return setState(d, st)
		})
	})

	g.Post("devices/:id/charge", func(c *fiber.Ctx) error {
		var req struct {
			Charging     bool    `json:"charging"`
			TargetPowerW float64 `json:"targetPowerW"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "bad request body"})
		}
		return controlDevice(c, repos, domain.KindEVCharger, func(d *domain.Device) error {
			var cfg domain.EVChargerConfig
			var st domain.EVChargerState
			if err := json.Unmarshal(d.Config, &cfg); err != nil {
				return err
			}
			if err := json.Unmarshal(d.State, &st); err != nil {
				return err
			}
			st.IsCharging = req.Charging
			if req.Charging {
				st.TargetPowerW = clamp(req.TargetPowerW, cfg.MinPowerW, cfg.MaxPowerW)
			}
			return setState(d, st)
		})
	})
}

var errNotControllable = errors.New("appliance is not controllable")

// controlDevice fetches the device, applies the mutation, and persists the
// new state as a single-element batch. Last-writer-wins against a concurrent
// simulation cycle is the accepted approximation.
func controlDevice(c *fiber.Ctx, repos *repository.Repos, kind domain.DeviceKind, mutate func(*domain.Device) error) error {
	d, err := repos.GetDevice(c.Params("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "device not found"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if d.Kind != kind {
		return c.Status(400).JSON(fiber.Map{"error": "wrong device kind"})
	}
	if err := mutate(d); err != nil {
		if errors.Is(err, errNotControllable) {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if err := repos.BatchUpdateState([]domain.StateUpdate{{DeviceID: d.ID, State: d.State}}); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(d)
}

func setState(d *domain.Device, st any) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	d.State = raw
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
