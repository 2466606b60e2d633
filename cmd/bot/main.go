package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nmoreras/pregunton/internal/bot"
)

func main() {
	url := flag.String("url", "http://localhost:8009", "server base URL")
	players := flag.Int("players", 3, "number of autoplaying clients")
	rounds := flag.Int("rounds", 3, "number of rounds (raised to the player count if lower)")
	questionTime := flag.Int("question-time", 60, "question time in seconds (60, 90 or 120)")
	answerTime := flag.Int("answer-time", 60, "answer time in seconds (60, 90 or 120)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()

	auto := bot.NewAutoplay(*url, *players, *rounds, *questionTime, *answerTime)
	if err := auto.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Autoplay failed")
	}
	log.Info().Msg("Autoplay game completed successfully")
}
