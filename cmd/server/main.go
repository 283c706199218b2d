package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nikita-zerofy/hems-emulator/internal/config"
	"github.com/nikita-zerofy/hems-emulator/internal/database"
	httpHandlers "github.com/nikita-zerofy/hems-emulator/internal/http"
	"github.com/nikita-zerofy/hems-emulator/internal/realtime"
	"github.com/nikita-zerofy/hems-emulator/internal/repository"
	"github.com/nikita-zerofy/hems-emulator/internal/sim"
	"github.com/nikita-zerofy/hems-emulator/internal/weather"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	repos := repository.New(db)

	publisher, err := realtime.NewMQTTPublisher(config.MQTTBroker())
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect failed")
	}
	defer publisher.Close()

	provider := weather.NewOpenMeteo(config.WeatherBaseURL(), config.WeatherTimeout())

	scheduler := sim.New(sim.Config{
		Store:              repos,
		Weather:            provider,
		Publisher:          publisher,
		Interval:           config.SimInterval(),
		PhantomLoadW:       config.PhantomLoadW(),
		WeatherConcurrency: config.WeatherConcurrency(),
	})
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New()
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	httpHandlers.Register(app, repos)

	go func() {
		addr := config.APIAddr()
		log.Info().Str("addr", addr).Msg("api listening")
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("server exit")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")
	_ = app.Shutdown()
}
