package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	name, err := domain.NormalizeUsername(cfg.Peer.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid peer name")
	}

	// Without a media engine there is nothing to negotiate; never join.
	factory, err := rtc.NewEngineFactory(rtc.WebRTCConfig(cfg.Peer.ICEServers))
	if err != nil {
		log.Fatal().Err(err).Msg("media acquisition failed")
	}

	client := peer.New(peer.Options{
		ServerURL:  cfg.Peer.ServerURL,
		Room:       domain.RoomID(cfg.Peer.Room),
		Name:       name,
		UserID:     domain.UserID(cfg.Peer.UserID),
		SendBuffer: cfg.Signal.SendBuffer,
		WriteWait:  cfg.Signal.WriteWait,
	}, factory)

	if err := client.Run(ctx); err != nil {
		if errors.Is(err, peer.ErrBanned) {
			log.Warn().Msg("removed from meeting")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("peer stopped")
		os.Exit(1)
	}
	log.Info().Msg("peer exited")
}
