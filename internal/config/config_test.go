package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func senderFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test send", flag.ContinueOnError)
}

func receiverFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test recv", flag.ContinueOnError)
}

func TestSenderDefaults(t *testing.T) {
	cfg, err := parseSenderWithFlagSet(senderFlagSet(), []string{"--file", "a.bin"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.Group != DefaultGroup || cfg.Port != DefaultPort {
		t.Fatalf("endpoint = %s:%d, want defaults", cfg.Group, cfg.Port)
	}
	if cfg.ChunkSize != DefaultChunkSize || cfg.PPS != 0 {
		t.Fatalf("chunking = size %d pps %d, want %d/0", cfg.ChunkSize, cfg.PPS, DefaultChunkSize)
	}
	if cfg.BaseStreamID != 1 {
		t.Fatalf("base stream id = %d, want 1", cfg.BaseStreamID)
	}
}

func TestSenderRequiresFile(t *testing.T) {
	if _, err := parseSenderWithFlagSet(senderFlagSet(), nil); err == nil {
		t.Fatal("parse accepted an empty file list")
	}
}

func TestSenderRepeatableFiles(t *testing.T) {
	cfg, err := parseSenderWithFlagSet(senderFlagSet(),
		[]string{"--file", "a.bin", "--file", "b.bin", "--stream", "10"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(cfg.Files) != 2 || cfg.Files[1] != "b.bin" {
		t.Fatalf("files = %v, want [a.bin b.bin]", cfg.Files)
	}
	if cfg.BaseStreamID != 10 {
		t.Fatalf("base stream id = %d, want 10", cfg.BaseStreamID)
	}
}

func TestSenderLegacyRejectsMultipleFiles(t *testing.T) {
	_, err := parseSenderWithFlagSet(senderFlagSet(),
		[]string{"--file", "a", "--file", "b", "--legacy"})
	if err == nil {
		t.Fatal("legacy header accepted multiple files")
	}
}

func TestReceiverStreamsAndTimeout(t *testing.T) {
	cfg, err := parseReceiverWithFlagSet(receiverFlagSet(),
		[]string{"--stream", "3", "--stream", "4", "--timeout", "5", "--out", "x-{stream}.dat"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(cfg.Streams) != 2 || cfg.Streams[0] != 3 || cfg.Streams[1] != 4 {
		t.Fatalf("streams = %v, want [3 4]", cfg.Streams)
	}
	if cfg.FinalizeTimeout != 5*time.Second {
		t.Fatalf("finalize timeout = %v, want 5s", cfg.FinalizeTimeout)
	}
}

func TestReceiverLegacyImpliesSingleStream(t *testing.T) {
	cfg, err := parseReceiverWithFlagSet(receiverFlagSet(), []string{"--legacy"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0] != DefaultLegacyStreamID {
		t.Fatalf("streams = %v, want the implied legacy stream", cfg.Streams)
	}

	if _, err := parseReceiverWithFlagSet(receiverFlagSet(),
		[]string{"--legacy", "--stream", "1", "--stream", "2"}); err == nil {
		t.Fatal("legacy header accepted two subscribed streams")
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ROUNDSEND_GROUP", "239.9.9.9")
	t.Setenv("ROUNDSEND_PORT", "2222")

	cfg, err := parseReceiverWithFlagSet(receiverFlagSet(), nil)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.Group != "239.9.9.9" || cfg.Port != 2222 {
		t.Fatalf("endpoint = %s:%d, want env values", cfg.Group, cfg.Port)
	}
}

func TestSenderEnvKnobs(t *testing.T) {
	t.Setenv("ROUNDSEND_PPS", "750")
	t.Setenv("ROUNDSEND_CHUNK_SIZE", "800")

	cfg, err := parseSenderWithFlagSet(senderFlagSet(), []string{"--file", "a.bin"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.PPS != 750 || cfg.ChunkSize != 800 {
		t.Fatalf("pps/chunk = %d/%d, want env values 750/800", cfg.PPS, cfg.ChunkSize)
	}
}

func TestReceiverEnvKnobs(t *testing.T) {
	t.Setenv("ROUNDSEND_OUTPUT", "env-{stream}.bin")
	t.Setenv("ROUNDSEND_TIMEOUT", "7")
	t.Setenv("ROUNDSEND_MAX_PENDING", "128")

	cfg, err := parseReceiverWithFlagSet(receiverFlagSet(), nil)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.Output != "env-{stream}.bin" {
		t.Fatalf("output = %q, want the env value", cfg.Output)
	}
	if cfg.FinalizeTimeout != 7*time.Second {
		t.Fatalf("finalize timeout = %v, want 7s", cfg.FinalizeTimeout)
	}
	if cfg.MaxPending != 128 {
		t.Fatalf("max pending = %d, want 128", cfg.MaxPending)
	}

	// Flags still win over env.
	cfg, err = parseReceiverWithFlagSet(receiverFlagSet(), []string{"--timeout", "3"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.FinalizeTimeout != 3*time.Second {
		t.Fatalf("finalize timeout = %v, want the flag to win with 3s", cfg.FinalizeTimeout)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ROUNDSEND_PORT", "2222")

	cfg, err := parseReceiverWithFlagSet(receiverFlagSet(), []string{"--port", "3333"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.Port != 3333 {
		t.Fatalf("port = %d, want the flag to win over env", cfg.Port)
	}
}

func TestConfigFileLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roundsend.toml")
	body := "group = \"239.1.1.1\"\nport = 4444\npps = 500\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// File values seed the defaults; flags still win.
	cfg, err := parseSenderWithFlagSet(senderFlagSet(),
		[]string{"--config", path, "--file", "a.bin", "--port", "5555"})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if cfg.Group != "239.1.1.1" {
		t.Fatalf("group = %s, want the file value", cfg.Group)
	}
	if cfg.PPS != 500 {
		t.Fatalf("pps = %d, want the file value 500", cfg.PPS)
	}
	if cfg.Port != 5555 {
		t.Fatalf("port = %d, want the flag to win over the file", cfg.Port)
	}
}

func TestUintSliceRejectsZero(t *testing.T) {
	if _, err := parseReceiverWithFlagSet(receiverFlagSet(), []string{"--stream", "0"}); err == nil {
		t.Fatal("stream id 0 accepted")
	}
}
