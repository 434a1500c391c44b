package transformer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/darkace1998/content-transformer/internal/capability"
	"github.com/darkace1998/content-transformer/internal/config"
	"github.com/darkace1998/content-transformer/internal/registry"
)

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	FormatName string            `json:"format_name"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	CodecType   string `json:"codec_type"` // "video" or "audio"
	CodecName   string `json:"codec_name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	SampleRate  string `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

// Probe extracts media metadata with ffprobe.
type Probe struct {
	ExtracterBase
	ffprobePath string
}

// NewProbe creates an ffprobe extracter; metadataExtracter.<name>.command overrides the
// executable (default ffprobe).
func NewProbe(props *config.Properties, name string, profiles, sources []string) *Probe {
	key := capability.PrefixMetadataExtracter + "." + name + ".command"
	return &Probe{
		ExtracterBase: NewExtracterBase(name, profiles, sources),
		ffprobePath:   props.String(key, "ffprobe"),
	}
}

func (p *Probe) ExtractMetadata(ctx context.Context, req *registry.Request) (map[string]any, error) {
	info, err := os.Stat(req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source path is a directory, not a file")
	}

	// #nosec G204 - ffprobePath comes from configuration
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		req.SourceFile,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run ffprobe: %w: %s", err, stderrTail(stderr.Bytes()))
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return probeMetadata(&probe, info.Size()), nil
}

// probeMetadata flattens ffprobe output, preferring default streams over the first of a kind.
func probeMetadata(probe *ffprobeOutput, size int64) map[string]any {
	metadata := map[string]any{"size": size}

	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		metadata["duration"] = d
	}
	if b, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		metadata["bitrate"] = b
	}
	if probe.Format.FormatName != "" {
		metadata["format"] = probe.Format.FormatName
	}
	for _, tag := range []string{"title", "artist", "album", "date", "comment"} {
		if v := probe.Format.Tags[tag]; v != "" {
			metadata[tag] = v
		}
	}

	if video := pickStream(probe.Streams, "video"); video != nil {
		metadata["videoCodec"] = video.CodecName
		metadata["width"] = video.Width
		metadata["height"] = video.Height
	}
	if audio := pickStream(probe.Streams, "audio"); audio != nil {
		metadata["audioCodec"] = audio.CodecName
		metadata["channels"] = audio.Channels
		if rate, err := strconv.Atoi(audio.SampleRate); err == nil {
			metadata["sampleRate"] = rate
		}
	}
	return metadata
}

func pickStream(streams []ffprobeStream, kind string) *ffprobeStream {
	var first *ffprobeStream
	for i := range streams {
		s := &streams[i]
		if s.CodecType != kind {
			continue
		}
		if s.Disposition.Default == 1 {
			return s
		}
		if first == nil {
			first = s
		}
	}
	return first
}
