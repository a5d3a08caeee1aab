package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/adapters/media"
	"github.com/SamuelLnds/confmesh/internal/adapters/rtc"
	"github.com/SamuelLnds/confmesh/internal/adapters/ws"
	"github.com/SamuelLnds/confmesh/internal/config"
	"github.com/SamuelLnds/confmesh/internal/core"
	"github.com/SamuelLnds/confmesh/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	self := domain.Participant{
		ID:     domain.ParticipantID(uuid.NewString()),
		Pseudo: cfg.Pseudo,
	}
	room := domain.RoomName(cfg.Room)

	if err := os.MkdirAll(cfg.RecordDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", cfg.RecordDir).Msg("cannot create record dir")
	}

	transport, err := ws.Dial(ctx, cfg.SignalURL, room, self)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.SignalURL).Msg("cannot reach signaling relay")
	}
	defer transport.Close()

	factory := rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.StunURLs))
	source := media.NewFileSource(cfg.AudioFile)
	sink := media.NewOggSink(cfg.RecordDir)

	obs := &consoleObserver{ctx: ctx, sink: sink}
	conf := core.NewConference(ctx, self, room, transport, source, factory, obs)
	obs.conf = conf

	transport.OnEnvelope(conf.HandleEnvelope)
	transport.OnRoster(conf.UpdateRoster)
	transport.OnPeerLeft(conf.RemoveRoomParticipant)
	transport.Start(ctx)

	log.Info().Str("id", string(self.ID)).Str("pseudo", self.Pseudo).Str("room", cfg.Room).Msg("connected")
	fmt.Println("commands: start | leave | state | who | request | quit")

	go readCommands(ctx, cancel, conf)
	<-ctx.Done()
	conf.Leave()
}

func readCommands(ctx context.Context, cancel context.CancelFunc, conf *core.Conference) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "start":
			if err := conf.StartOrJoin(ctx); err != nil {
				log.Error().Err(err).Msg("start failed")
			}
		case "leave":
			conf.Leave()
		case "state":
			st := conf.State()
			fmt.Printf("phase=%s conference=%s participants=%v\n", st.Phase, st.ConferenceID, st.ParticipantIDs)
		case "who":
			for _, p := range conf.Participants() {
				marker := " "
				if p.InConference {
					marker = "*"
				}
				if p.IsSelf {
					marker += " (you)"
				}
				fmt.Printf("%s %s [%s]\n", marker, p.Pseudo, p.ID)
			}
		case "request":
			conf.RequestConferenceState()
		case "quit":
			cancel()
			return
		case "":
		default:
			fmt.Println("commands: start | leave | state | who | request | quit")
		}
	}
}

// consoleObserver logs every core callback and records remote audio.
type consoleObserver struct {
	ctx  context.Context
	sink *media.OggSink
	conf *core.Conference
}

func (o *consoleObserver) OnStateChanged(st core.State) {
	log.Info().Str("phase", string(st.Phase)).Str("conference", string(st.ConferenceID)).
		Int("participants", len(st.ParticipantIDs)).Msg("conference state")
}

func (o *consoleObserver) OnRemoteTrack(peer domain.ParticipantID, track *webrtc.TrackRemote) {
	if track == nil {
		log.Info().Str("peer", string(peer)).Msg("remote stream gone")
		return
	}
	log.Info().Str("peer", string(peer)).Msg("remote stream available")
	o.sink.Record(o.ctx, peer, track)
}

func (o *consoleObserver) OnParticipantsChanged(view []core.ConferenceParticipant) {
	log.Info().Int("count", len(view)).Msg("participants changed")
}

func (o *consoleObserver) OnAnnouncement(a domain.Announcement) {
	pseudo := a.ParticipantPseudo
	if pseudo == "" && o.conf != nil {
		pseudo = o.conf.Pseudo(a.ParticipantID)
	}
	fmt.Printf("[%s] %s: %s\n", a.Timestamp, pseudo, a.Type)
}

func (o *consoleObserver) OnError(msg string) {
	log.Error().Str("reason", msg).Msg("conference error")
}
