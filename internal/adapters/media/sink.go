package media

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/domain"
)

// OggSink records each remote peer's audio into its own Ogg file. The headless
// client has no speaker; a recording is what "playback" means here.
type OggSink struct {
	dir string
}

func NewOggSink(dir string) *OggSink {
	return &OggSink{dir: dir}
}

// Record drains the remote track into <dir>/<peer>.ogg until the track ends
// or ctx is cancelled. Runs its own goroutine, returns immediately.
func (s *OggSink) Record(ctx context.Context, peer domain.ParticipantID, track *webrtc.TrackRemote) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s.ogg", peer))
	writer, err := oggwriter.New(path, opusSampleRate, 2)
	if err != nil {
		log.Error().Err(err).Str("module", "media").Str("peer", string(peer)).Msg("open recording")
		return
	}
	log.Info().Str("module", "media").Str("peer", string(peer)).Str("file", path).Msg("recording remote audio")

	go func() {
		defer func() {
			if err := writer.Close(); err != nil {
				log.Error().Err(err).Str("module", "media").Str("peer", string(peer)).Msg("close recording")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			pkt, _, err := track.ReadRTP()
			if err != nil {
				log.Info().Err(err).Str("module", "media").Str("peer", string(peer)).Msg("remote track ended")
				return
			}
			if err := writePacket(writer, pkt); err != nil {
				log.Error().Err(err).Str("module", "media").Str("peer", string(peer)).Msg("write packet")
				return
			}
		}
	}()
}

func writePacket(w *oggwriter.OggWriter, pkt *rtp.Packet) error {
	return w.WriteRTP(pkt)
}
