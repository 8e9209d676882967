package fallback

import (
	"context"

	"github.com/five82/nvpipe/internal/ffmpeg"
)

func init() {
	Register("ffmpeg", 100, openFFmpeg)
}

func openFFmpeg(ctx context.Context, req Request) (Encoder, error) {
	enc, err := ffmpeg.Start(ctx, ffmpeg.Params{
		Binary:   req.FFmpegPath,
		Settings: req.Settings,
		Video:    req.Video,
		Metrics:  req.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}
