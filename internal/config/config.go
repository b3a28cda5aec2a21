// Package config parses sender and receiver configuration. Precedence, lowest
// to highest: built-in defaults, TOML config file, ROUNDSEND_* environment
// variables, command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults carried over from the original deployment.
const (
	DefaultGroup           = "ff3e::1"
	DefaultPort            = 12345
	DefaultChunkSize       = 1200
	DefaultFinalizeTimeout = 10 * time.Second
	DefaultLegacyStreamID  = 1
)

// FileConfig is the optional TOML file shape. Zero values mean "not set".
type FileConfig struct {
	Group      string `toml:"group"`
	Port       int    `toml:"port"`
	Interface  string `toml:"interface"`
	LogLevel   string `toml:"log_level"`
	StatusAddr string `toml:"status_addr"`
	Legacy     bool   `toml:"legacy_header"`

	// Sender side.
	PPS       int `toml:"pps"`
	ChunkSize int `toml:"chunk_size"`

	// Receiver side.
	Output          string `toml:"output"`
	FinalizeSeconds int    `toml:"finalize_timeout_seconds"`
	MaxPending      int    `toml:"max_pending"`
}

// SenderConfig holds configuration for `roundsend send`.
type SenderConfig struct {
	Group     string
	Port      int
	Interface string
	Files     []string
	// BaseStreamID is the stream id of the first file; each additional file
	// takes the next id.
	BaseStreamID uint32
	PPS          int
	ChunkSize    int
	Legacy       bool
	LogLevel     string
	StatusAddr   string
}

// ReceiverConfig holds configuration for `roundsend recv`.
type ReceiverConfig struct {
	Group     string
	Port      int
	Interface string
	// Output is the stdout sentinel "-" or a path, with a {stream}
	// placeholder when more than one stream may be accepted.
	Output string
	// Streams is the accept set; empty means accept all.
	Streams         []uint32
	FinalizeTimeout time.Duration
	MaxPending      int
	Legacy          bool
	LegacyStreamID  uint32
	LogLevel        string
	StatusAddr      string
}

// ParseSenderConfig parses `roundsend send` arguments.
func ParseSenderConfig(args []string) (SenderConfig, error) {
	return parseSenderWithFlagSet(flag.NewFlagSet("roundsend send", flag.ContinueOnError), args)
}

func parseSenderWithFlagSet(fs *flag.FlagSet, args []string) (SenderConfig, error) {
	cfg := SenderConfig{
		Group:        DefaultGroup,
		Port:         DefaultPort,
		BaseStreamID: 1,
		ChunkSize:    DefaultChunkSize,
		LogLevel:     "info",
	}

	file, err := loadFileConfig(args)
	if err != nil {
		return cfg, err
	}
	applyCommon(file, &cfg.Group, &cfg.Port, &cfg.Interface, &cfg.LogLevel, &cfg.StatusAddr, &cfg.Legacy)
	if file.PPS != 0 {
		cfg.PPS = file.PPS
	}
	if file.ChunkSize != 0 {
		cfg.ChunkSize = file.ChunkSize
	}
	applyEnv(&cfg.Group, &cfg.Port, &cfg.Interface, &cfg.LogLevel, &cfg.StatusAddr)
	applyEnvInt("ROUNDSEND_PPS", &cfg.PPS)
	applyEnvInt("ROUNDSEND_CHUNK_SIZE", &cfg.ChunkSize)

	var configPath string
	var baseStream uint64
	files := make([]string, 0)
	fs.StringVar(&configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&cfg.Group, "group", cfg.Group, "multicast group address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "UDP port")
	fs.StringVar(&cfg.Interface, "iface", cfg.Interface, "network interface for multicast")
	fs.Var((*stringSlice)(&files), "file", "file to send (repeatable; each file gets its own stream id)")
	fs.Uint64Var(&baseStream, "stream", uint64(cfg.BaseStreamID), "stream id of the first file")
	fs.IntVar(&cfg.PPS, "pps", cfg.PPS, "target send rate in frames per second (0 = unpaced)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "payload bytes per frame (max 1200)")
	fs.BoolVar(&cfg.Legacy, "legacy", cfg.Legacy, "use the 8-byte single-stream header")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "address for the live status endpoint (empty = off)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Files = files
	cfg.BaseStreamID = uint32(baseStream)

	if len(cfg.Files) == 0 {
		return cfg, errors.New("at least one --file is required")
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > DefaultChunkSize {
		return cfg, fmt.Errorf("chunk-size must be within 1..%d", DefaultChunkSize)
	}
	if cfg.BaseStreamID == 0 {
		return cfg, errors.New("stream id must be at least 1")
	}
	if cfg.Legacy && len(cfg.Files) > 1 {
		return cfg, errors.New("the legacy header carries no stream id; send one file at a time")
	}
	return cfg, nil
}

// ParseReceiverConfig parses `roundsend recv` arguments.
func ParseReceiverConfig(args []string) (ReceiverConfig, error) {
	return parseReceiverWithFlagSet(flag.NewFlagSet("roundsend recv", flag.ContinueOnError), args)
}

func parseReceiverWithFlagSet(fs *flag.FlagSet, args []string) (ReceiverConfig, error) {
	cfg := ReceiverConfig{
		Group:           DefaultGroup,
		Port:            DefaultPort,
		Output:          "out-{stream}.bin",
		FinalizeTimeout: DefaultFinalizeTimeout,
		LegacyStreamID:  DefaultLegacyStreamID,
		LogLevel:        "info",
	}

	file, err := loadFileConfig(args)
	if err != nil {
		return cfg, err
	}
	applyCommon(file, &cfg.Group, &cfg.Port, &cfg.Interface, &cfg.LogLevel, &cfg.StatusAddr, &cfg.Legacy)
	if file.Output != "" {
		cfg.Output = file.Output
	}
	if file.FinalizeSeconds != 0 {
		cfg.FinalizeTimeout = time.Duration(file.FinalizeSeconds) * time.Second
	}
	if file.MaxPending != 0 {
		cfg.MaxPending = file.MaxPending
	}
	applyEnv(&cfg.Group, &cfg.Port, &cfg.Interface, &cfg.LogLevel, &cfg.StatusAddr)
	if v := os.Getenv("ROUNDSEND_OUTPUT"); v != "" {
		cfg.Output = v
	}
	var timeoutEnv int
	applyEnvInt("ROUNDSEND_TIMEOUT", &timeoutEnv)
	if timeoutEnv != 0 {
		cfg.FinalizeTimeout = time.Duration(timeoutEnv) * time.Second
	}
	applyEnvInt("ROUNDSEND_MAX_PENDING", &cfg.MaxPending)

	var configPath string
	var finalizeSeconds int
	var legacyStream uint64
	streams := make([]uint32, 0)
	fs.StringVar(&configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&cfg.Group, "group", cfg.Group, "multicast group address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "UDP port")
	fs.StringVar(&cfg.Interface, "iface", cfg.Interface, "network interface for multicast")
	fs.StringVar(&cfg.Output, "out", cfg.Output, `output path pattern ({stream} = stream id) or "-" for stdout`)
	fs.Var((*uintSlice)(&streams), "stream", "stream id to accept (repeatable; none = accept all)")
	fs.IntVar(&finalizeSeconds, "timeout", int(cfg.FinalizeTimeout/time.Second), "seconds to wait for missing frames after a final marker")
	fs.IntVar(&cfg.MaxPending, "max-pending", cfg.MaxPending, "out-of-order entries buffered per stream (0 = default)")
	fs.BoolVar(&cfg.Legacy, "legacy", cfg.Legacy, "use the 8-byte single-stream header")
	fs.Uint64Var(&legacyStream, "legacy-stream", uint64(cfg.LegacyStreamID), "stream id assigned to legacy-header frames")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "address for the live status endpoint (empty = off)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Streams = streams
	cfg.FinalizeTimeout = time.Duration(finalizeSeconds) * time.Second
	cfg.LegacyStreamID = uint32(legacyStream)

	if cfg.Legacy {
		if len(cfg.Streams) > 1 {
			return cfg, errors.New("the legacy header carries a single stream; subscribe to at most one id")
		}
		if len(cfg.Streams) == 0 {
			cfg.Streams = []uint32{cfg.LegacyStreamID}
		} else {
			cfg.LegacyStreamID = cfg.Streams[0]
		}
	}
	if cfg.FinalizeTimeout <= 0 {
		return cfg, errors.New("timeout must be positive")
	}
	return cfg, nil
}

// loadFileConfig pre-scans args for --config and decodes the named file.
// The flag is pre-scanned so file values can seed the flag defaults.
func loadFileConfig(args []string) (FileConfig, error) {
	var fc FileConfig
	path := ""
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(arg, "-config="):
			path = strings.TrimPrefix(arg, "-config=")
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		}
	}
	if path == "" {
		return fc, nil
	}
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fc, fmt.Errorf("config file %s: %w", path, err)
	}
	return fc, nil
}

func applyCommon(file FileConfig, group *string, port *int, iface, logLevel, statusAddr *string, legacy *bool) {
	if file.Group != "" {
		*group = file.Group
	}
	if file.Port != 0 {
		*port = file.Port
	}
	if file.Interface != "" {
		*iface = file.Interface
	}
	if file.LogLevel != "" {
		*logLevel = file.LogLevel
	}
	if file.StatusAddr != "" {
		*statusAddr = file.StatusAddr
	}
	if file.Legacy {
		*legacy = true
	}
}

func applyEnv(group *string, port *int, iface, logLevel, statusAddr *string) {
	if v := os.Getenv("ROUNDSEND_GROUP"); v != "" {
		*group = v
	}
	if v := os.Getenv("ROUNDSEND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			*port = p
		}
	}
	if v := os.Getenv("ROUNDSEND_IFACE"); v != "" {
		*iface = v
	}
	if v := os.Getenv("ROUNDSEND_LOG_LEVEL"); v != "" {
		*logLevel = v
	}
	if v := os.Getenv("ROUNDSEND_STATUS_ADDR"); v != "" {
		*statusAddr = v
	}
}

// applyEnvInt overwrites dst with name's value when it parses as an integer.
func applyEnvInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// uintSlice implements flag.Value for repeatable stream-id flags.
type uintSlice []uint32

func (s *uintSlice) String() string {
	parts := make([]string, len(*s))
	for i, v := range *s {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}

func (s *uintSlice) Set(value string) error {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid stream id %q", value)
	}
	if v == 0 {
		return errors.New("stream id must be at least 1")
	}
	*s = append(*s, uint32(v))
	return nil
}

var _ flag.Value = (*stringSlice)(nil)
var _ flag.Value = (*uintSlice)(nil)
