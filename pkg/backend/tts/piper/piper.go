// Package piper provides a tts.Synthesizer that shells out to the piper
// binary for fully local synthesis.
//
// Voices live in a single directory: each voice is an ONNX model blob named
// <voice>.onnx next to a JSON sidecar named <voice>.onnx.json carrying the
// language code and native sample rate. Both files must be present for the
// voice to be served; a blob without its sidecar is treated as not installed.
//
// Usage:
//
//	s, err := piper.New("piper", "/var/lib/cogate/voices",
//	    piper.WithDefaultVoice("en_US-amy-medium"),
//	)
//	wav, err := s.Synthesize(ctx, tts.Request{Text: "hello"})
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sylvanops/cogate/pkg/backend"
	"github.com/sylvanops/cogate/pkg/backend/tts"
	"github.com/sylvanops/cogate/pkg/wav"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithBinary overrides the piper executable path. Defaults to "piper" on PATH.
func WithBinary(path string) Option {
	return func(s *Synthesizer) { s.binary = path }
}

// WithDefaultVoice sets the voice used when a request does not name one.
func WithDefaultVoice(voice string) Option {
	return func(s *Synthesizer) { s.defaultVoice = voice }
}

// Synthesizer implements tts.Synthesizer by invoking the piper binary once
// per request. Concurrent calls spawn concurrent processes.
type Synthesizer struct {
	id           string
	binary       string
	voicesDir    string
	defaultVoice string

	// runCmd is an exec seam for tests.
	runCmd func(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)
}

// New creates a Synthesizer identified by id that serves voices from
// voicesDir.
func New(id, voicesDir string, opts ...Option) (*Synthesizer, error) {
	if id == "" {
		return nil, fmt.Errorf("piper: id must not be empty")
	}
	if voicesDir == "" {
		return nil, fmt.Errorf("piper: voicesDir must not be empty")
	}
	s := &Synthesizer{
		id:        id,
		binary:    "piper",
		voicesDir: voicesDir,
		runCmd:    runExec,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// runExec runs name with args, feeding stdin and capturing stdout. Stderr is
// folded into the error on failure.
func runExec(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// sidecar mirrors the fields of the <voice>.onnx.json metadata file that the
// gateway cares about.
type sidecar struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, backend.Rejected(s.id, "text must not be empty")
	}

	voice := req.Voice
	if voice == "" {
		voice = s.defaultVoice
	}
	if voice == "" {
		return nil, backend.Rejected(s.id, "no voice requested and no default configured")
	}

	modelPath := filepath.Join(s.voicesDir, voice+".onnx")
	configPath := modelPath + ".json"
	if _, err := os.Stat(modelPath); err != nil {
		return nil, backend.VoiceNotFound(s.id, "voice %q is not installed", voice)
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, backend.VoiceNotFound(s.id, "voice %q has no sidecar config", voice)
	}

	args := []string{
		"--model", modelPath,
		"--config", configPath,
		"--output_file", "-",
	}
	if req.Speed > 0 {
		// Piper expresses speed as a length scale: larger = slower.
		args = append(args, "--length_scale", strconv.FormatFloat(1/req.Speed, 'f', 3, 64))
	}

	out, err := s.runCmd(ctx, s.binary, args, strings.NewReader(text))
	if err != nil {
		return nil, backend.Classify(s.id, err)
	}
	if !wav.IsWAV(out) {
		return nil, backend.Protocol(s.id, "piper produced %d bytes that are not WAV", len(out))
	}
	return out, nil
}

// Voices implements tts.Synthesizer by scanning the voices directory.
func (s *Synthesizer) Voices(context.Context) ([]tts.Voice, error) {
	entries, err := os.ReadDir(s.voicesDir)
	if err != nil {
		return nil, backend.Unavailable(s.id, "read voices dir").WithCause(err)
	}

	var voices []tts.Voice
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".onnx") {
			continue
		}
		base := strings.TrimSuffix(name, ".onnx")
		v := tts.Voice{Name: base}

		data, err := os.ReadFile(filepath.Join(s.voicesDir, name+".json"))
		if err != nil {
			// Blob without sidecar: not a usable voice.
			continue
		}
		var sc sidecar
		if err := json.Unmarshal(data, &sc); err == nil {
			v.Language = sc.Language.Code
			v.SampleRate = sc.Audio.SampleRate
		}
		voices = append(voices, v)
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })
	return voices, nil
}

// Installed reports whether a voice's blob and sidecar are both present.
func (s *Synthesizer) Installed(voice string) bool {
	modelPath := filepath.Join(s.voicesDir, voice+".onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return false
	}
	_, err := os.Stat(modelPath + ".json")
	return err == nil
}
