// Package media provides the local audio capture stand-ins appropriate to a
// headless client: an Ogg Opus file behind the capture interface, and an Ogg
// recorder for remote streams.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/core"
)

const opusSampleRate = 48000

// FileSource implements core.MediaSource over an Ogg Opus file. Acquire opens
// the file and pumps its pages into a single shared local track; Release
// stops the pump. Filesystem failures map onto the capture error taxonomy.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Acquire(_ context.Context) (*core.LocalStream, error) {
	file, err := os.Open(s.path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("%w: %s", core.ErrDeviceUnavailable, s.path)
		case os.IsPermission(err):
			return nil, fmt.Errorf("%w: %s", core.ErrPermissionDenied, s.path)
		default:
			return nil, err
		}
	}

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "confmesh",
	)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	go pump(pumpCtx, ogg, track)

	stream := core.NewLocalStream([]webrtc.TrackLocal{track}, func() {
		cancel()
		_ = file.Close()
	})
	log.Info().Str("module", "media").Str("file", s.path).Msg("audio source acquired")
	return stream, nil
}

func (s *FileSource) Release(stream *core.LocalStream) {
	if stream == nil {
		return
	}
	stream.Stop()
	log.Info().Str("module", "media").Str("file", s.path).Msg("audio source released")
}

// pump feeds Ogg pages into the track, pacing writes by granule position.
func pump(ctx context.Context, ogg *oggreader.OggReader, track *webrtc.TrackLocalStaticSample) {
	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			log.Info().Str("module", "media").Msg("audio file finished")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "media").Msg("ogg parse error")
			return
		}

		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration(sampleCount/opusSampleRate*1000) * time.Millisecond

		if err := track.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			log.Error().Err(err).Str("module", "media").Msg("write sample")
			return
		}
		time.Sleep(sampleDuration)
	}
}
