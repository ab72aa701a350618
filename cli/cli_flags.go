package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/GreatValueCreamSoda/govqmt/video"
	"github.com/GreatValueCreamSoda/govqmt/video/metrics"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// cliSettings is filled from, in increasing priority, the defaults, the YAML
// job file and the command line.
type cliSettings struct {
	Reference string             `yaml:"reference"`
	Distorted string             `yaml:"distorted"`
	Height    int                `yaml:"height"`
	Width     int                `yaml:"width"`
	Frames    int                `yaml:"frames"`
	Chroma    video.ChromaFormat `yaml:"chroma"`
	Output    string             `yaml:"output"`
	Metrics   []string           `yaml:"metrics"`

	FrameThreads int    `yaml:"frame_threads"`
	JSONPath     string `yaml:"json"`
	LogLevel     string `yaml:"log_level"`
	Quiet        bool   `yaml:"quiet"`

	SSIMVideoPath string  `yaml:"ssim_video_path"`
	SSIMClipping  float32 `yaml:"ssim_clipping_value"`
	FrameRate     float32 `yaml:"fps"`

	kinds []metrics.Kind
}

func defaultSettings() cliSettings {
	return cliSettings{
		Chroma:       video.Chroma420,
		Metrics:      []string{"psnr", "ssim"},
		FrameThreads: 1,
		LogLevel:     "info",
		SSIMClipping: 1,
		FrameRate:    25,
	}
}

// registerFlags binds the flags to s. The current values of s become the flag
// defaults.
func registerFlags(fs *pflag.FlagSet, s *cliSettings) *bool {
	fs.SortFlags = false

	// General Flags
	fs.String("config", "", "YAML job file. Flags given on the command line take precedence")
	fs.StringVarP(&s.Reference, "reference", "r", s.Reference, "The original raw yuv video path, - reads stdin")
	fs.StringVarP(&s.Distorted, "distorted", "d", s.Distorted, "The processed raw yuv video path compared to the original")
	fs.StringSliceVarP(&s.Metrics, "metrics", "m", s.Metrics, fmt.Sprintf("Comma seperated list of metrics %v", metrics.Kinds()))
	fs.IntVar(&s.FrameThreads, "frame-threads", s.FrameThreads, "Number of frames to process in parallel")
	printHelp := fs.BoolP("help", "h", false, "Show this help message")

	// Video geometry
	var geometrySectionName string = "Video Options"
	fs.IntVar(&s.Height, "height", s.Height, "Height of both videos in pixels")
	addFlagToHelpGroup(fs, "height", geometrySectionName)

	fs.IntVar(&s.Width, "width", s.Width, "Width of both videos in pixels")
	addFlagToHelpGroup(fs, "width", geometrySectionName)

	fs.IntVar(&s.Frames, "frames", s.Frames, "Number of frames to compare. 0 derives it from the file size")
	addFlagToHelpGroup(fs, "frames", geometrySectionName)

	fs.Var(&s.Chroma, "chroma", "Chroma layout: 0/400, 1/420, 2/422 or 3/444")
	addFlagToHelpGroup(fs, "chroma", geometrySectionName)

	// Output Settings
	var outputsSectionString string = "Output Options"
	fs.StringVarP(&s.Output, "output", "o", s.Output, "Result prefix, scores go to <prefix>_<metric>.csv")
	addFlagToHelpGroup(fs, "output", outputsSectionString)

	fs.StringVar(&s.JSONPath, "json", s.JSONPath, "Also write every score to this JSON file (.zst compresses)")
	addFlagToHelpGroup(fs, "json", outputsSectionString)

	fs.StringVar(&s.SSIMVideoPath, "ssim-video-path", s.SSIMVideoPath, "Output path for the SSIM heat map. Empty disables output")
	addFlagToHelpGroup(fs, "ssim-video-path", outputsSectionString)

	fs.Float32Var(&s.SSIMClipping, "ssim-clipping-value", s.SSIMClipping, "The clipping value for the SSIM distortion map")
	addFlagToHelpGroup(fs, "ssim-clipping-value", outputsSectionString)

	fs.Float32VarP(&s.FrameRate, "fps", "f", s.FrameRate, "Frame rate of the heat map video")
	addFlagToHelpGroup(fs, "fps", outputsSectionString)

	// Logging
	var loggingSectionName string = "Logging Options"
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "One of debug, info, warn or error")
	addFlagToHelpGroup(fs, "log-level", loggingSectionName)

	fs.BoolVarP(&s.Quiet, "quiet", "q", s.Quiet, "Disable the progress bar")
	addFlagToHelpGroup(fs, "quiet", loggingSectionName)

	return printHelp
}

// parseArgs builds the settings for args, which exclude the program name. It
// returns pflag.ErrHelp after printing the usage to stderr when help was
// requested.
func parseArgs(name string, args []string, stderr io.Writer) (*cliSettings,
	error) {
	s := defaultSettings()

	path, err := configPath(args)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadConfig(path, &s); err != nil {
			return nil, err
		}
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	printHelp := registerFlags(fs, &s)
	fs.Usage = func() { cliUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *printHelp {
		cliUsage(stderr, fs)
		return nil, pflag.ErrHelp
	}

	if fs.NArg() > 0 {
		if err := s.applyPositional(fs.Args()); err != nil {
			return nil, err
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// configPath extracts --config without failing on the other flags.
func configPath(args []string) (string, error) {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	path := fs.String("config", "", "")

	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", err
	}
	return *path, nil
}

func loadConfig(path string, s *cliSettings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyPositional accepts the classic
// ORIGINAL PROCESSED HEIGHT WIDTH FRAMES CHROMA OUTPUT METRIC... form.
func (s *cliSettings) applyPositional(args []string) error {
	if len(args) < 8 {
		return fmt.Errorf("at least 8 positional parameters are required: %s",
			legacyUsage)
	}

	ints := make([]int, 3)
	for i, name := range []string{"video height", "video width",
		"number of frames"} {
		v, err := strconv.Atoi(args[2+i])
		if err != nil {
			return fmt.Errorf("incorrect value for %s: %s", name, args[2+i])
		}
		ints[i] = v
	}

	chroma, err := video.ParseChromaFormat(args[5])
	if err != nil {
		return fmt.Errorf("incorrect value for chroma: %s", args[5])
	}

	s.Reference, s.Distorted = args[0], args[1]
	s.Height, s.Width, s.Frames = ints[0], ints[1], ints[2]
	s.Chroma = chroma
	s.Output = args[6]
	s.Metrics = args[7:]
	return nil
}

func (s *cliSettings) geometry() video.Geometry {
	return video.Geometry{Height: s.Height, Width: s.Width, Chroma: s.Chroma}
}

// validate rejects configuration errors before any frame is read.
func (s *cliSettings) validate() error {
	if s.Reference == "" || s.Distorted == "" {
		return errors.New("both --reference and --distorted are required")
	}
	if s.Reference == "-" && s.Distorted == "-" {
		return errors.New("only one video can be read from stdin")
	}
	if s.Output == "" {
		return errors.New("--output is required")
	}
	if s.Frames < 0 {
		return fmt.Errorf("invalid frame count %d", s.Frames)
	}
	if s.FrameThreads < 1 {
		return errors.New("at least 1 frame thread is required")
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return err
	}
	if err := s.geometry().Validate(); err != nil {
		return err
	}

	kinds, err := metrics.ParseKinds(s.Metrics)
	if err != nil {
		return err
	}
	if len(kinds) == 0 {
		return errors.New("no metric requested")
	}
	for _, k := range kinds {
		if !metrics.Available(k) {
			return fmt.Errorf("%s: %w", k, metrics.ErrUnavailable)
		}
		if err := k.CheckGeometry(s.geometry()); err != nil {
			return err
		}
	}
	s.kinds = kinds

	if s.SSIMVideoPath != "" {
		if s.FrameThreads != 1 {
			return errors.New("the ssim heat map needs --frame-threads 1")
		}
		if !(s.FrameRate > 0) || !(s.SSIMClipping > 0) {
			return errors.New("--fps and --ssim-clipping-value must be > 0")
		}
	}
	return nil
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}
