package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/recognition"
	"github.com/loqalabs/loqa-dictate/internal/recognition/cloud"
	"github.com/loqalabs/loqa-dictate/internal/recognition/providers"
	"github.com/loqalabs/loqa-dictate/internal/translit"
)

var version = "0.1.0-dev"

// chunk is the number of samples fed per call, 250 ms at 16 kHz.
const chunk = 4000

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'models', 'run', 'translit' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "models":
		fs := flag.NewFlagSet("models", flag.ExitOnError)
		configPath := fs.String("config", "", "Path to configuration file (defaults and environment when empty)")
		fs.Parse(os.Args[2:])
		err = runModels(*configPath)
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		configPath := fs.String("config", "", "Path to configuration file (defaults and environment when empty)")
		model := fs.String("model", "", "Model path as listed by 'models'; first installed model when empty")
		file := fs.String("file", "", "WAV file to transcribe")
		verbose := fs.Bool("v", false, "Log recognizer activity to stderr")
		fs.Parse(os.Args[2:])
		err = runTranscribe(*configPath, *model, *file, *verbose)
	case "translit":
		err = runTranslit(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRegistry(configPath string, log *slog.Logger) (*providers.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return providers.Default(config.NewHolder(cfg), log, recognition.DirectDispatcher{}), nil
}

func runModels(configPath string) error {
	registry, err := newRegistry(configPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	models := registry.InstalledModels()
	if len(models) == 0 {
		return errors.New("no models available: set whisper/sarvam api keys or enable local models")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tNAME\tTYPE")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Path, m.Name, m.Type)
	}
	return w.Flush()
}

func runTranscribe(configPath, modelPath, file string, verbose bool) error {
	if file == "" {
		return errors.New("-file is required")
	}
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	registry, err := newRegistry(configPath, log)
	if err != nil {
		return err
	}
	var ref recognition.ModelReference
	if modelPath == "" {
		models := registry.InstalledModels()
		if len(models) == 0 {
			return errors.New("no models available")
		}
		ref = models[0]
	} else {
		var ok bool
		if ref, ok = registry.Find(modelPath); !ok {
			return fmt.Errorf("model %q is not installed", modelPath)
		}
	}

	src := registry.SourceForModel(ref)
	if src == nil {
		return fmt.Errorf("model %q is unavailable", ref.Path)
	}
	src.Initialize(recognition.InlineExecutor{}, nil)
	defer src.Close(true)
	rec, err := src.Recognizer()
	if err != nil {
		return fmt.Errorf("%s: %s", src.Name(), src.ErrorMessage())
	}

	clip, err := audio.DecodeFile(file)
	if err != nil {
		return err
	}
	samples := clip.Normalize(rec.SampleRate())

	// Split long files at the utterance limit so no audio is dropped.
	ctx := context.Background()
	capacity := rec.SampleRate() * cloud.MaxUtterance
	buffered := 0
	for len(samples) > 0 {
		n := min(chunk, len(samples), capacity-buffered)
		full := rec.AcceptWaveForm(samples[:n], n)
		samples = samples[n:]
		buffered += n
		if full || buffered == capacity {
			printResult(rec.FinalResult(ctx))
			buffered = 0
		}
	}
	printResult(rec.FinalResult(ctx))
	return nil
}

func printResult(text string) {
	if text != "" {
		fmt.Println(text)
	}
}

func runTranslit(args []string) error {
	if len(args) > 0 {
		fmt.Println(translit.Transliterate(strings.Join(args, " ")))
		return nil
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fmt.Println(translit.Transliterate(scanner.Text()))
	}
	return scanner.Err()
}
