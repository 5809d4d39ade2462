package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"asrgate/internal/asr"
	"asrgate/internal/audio"
	"asrgate/internal/compose"
	"asrgate/internal/config"
)

func main() {
	var (
		inputFile  = flag.String("i", "", "Input audio file")
		outputFile = flag.String("o", "", "Output file (default: stdout)")
		format     = flag.String("format", "text", "Output format: text, json, srt, vtt")
		model      = flag.String("model", "", "Model ID (default: configured default engine)")
		maxSegment = flag.Float64("max-segment", 0, "Maximum subtitle segment length in seconds")
		verbose    = flag.Bool("v", false, "Verbose output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i audio.wav\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i audio.mp3 -format srt -o subtitles.srt\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i audio.wav -model paraformer-large -format json\n", os.Args[0])
	}

	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: Input file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: Input file not found: %s\n", *inputFile)
		os.Exit(1)
	}
	switch *format {
	case "text", "json", "srt", "vtt":
	default:
		fmt.Fprintf(os.Stderr, "Error: Invalid format '%s'. Must be: text, json, srt, or vtt\n", *format)
		os.Exit(1)
	}

	_ = godotenv.Load()
	settings := config.Load()
	if *maxSegment > 0 {
		settings.MaxSegmentSec = *maxSegment
	}
	if err := settings.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *verbose {
		fmt.Fprintf(os.Stderr, "Decoding: %s\n", *inputFile)
	}
	buf, err := audio.DecodeFile(ctx, *inputFile, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: decode failed: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "Duration: %.2fs\n", buf.DurationSec())
	}

	registry := asr.NewRegistry(settings)
	defer registry.Close()

	handle, err := registry.Get(*model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var vad audio.VADSource
	if vadClient, verr := asr.NewVADClient(asr.DefaultVADConfig(settings.VADModel)); verr == nil {
		defer vadClient.Close()
		vad = vadClient
	} else if *verbose {
		fmt.Fprintf(os.Stderr, "VAD unavailable, using fixed splitting: %v\n", verr)
	}

	maxSegmentSec := settings.MaxSegmentSec
	if *format == "text" || *format == "json" {
		maxSegmentSec = 55.0
	}
	splitter := &audio.Splitter{
		MaxSegmentSec: maxSegmentSec,
		MinSegmentSec: settings.MinSegmentSec,
		TempDir:       settings.TempDir,
		VAD:           vad,
	}
	segments, cleanup, err := splitter.Split(ctx, *inputFile, buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: split failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	punctuator := asr.NewPunctuator(settings.PuncModel)
	defer punctuator.Close()

	var sentences []compose.Sentence
	fullText := ""
	for i, seg := range segments {
		if *verbose {
			fmt.Fprintf(os.Stderr, "Segment %d/%d: %.2fs - %.2fs\n", i+1, len(segments), seg.StartSec(), seg.EndSec())
		}

		samples := buf.Samples
		if seg.Path != *inputFile {
			segBuf, rerr := audio.ReadWavFile(seg.Path)
			if rerr != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read segment: %v\n", rerr)
				os.Exit(1)
			}
			samples = segBuf.Samples
		}

		text, terr := handle.Transcribe(ctx, samples, buf.SampleRate, asr.TranscribeOptions{EnablePunctuation: true})
		if terr != nil {
			fmt.Fprintf(os.Stderr, "Error: transcription failed: %v\n", terr)
			os.Exit(1)
		}

		text = compose.CleanTags(text)
		if text == "" {
			continue
		}
		if punctuated, perr := punctuator.AddPunct(text); perr == nil {
			text = punctuated
		}
		sentences = append(sentences, compose.Sentence{Text: text, Start: seg.StartSec(), End: seg.EndSec()})
		fullText += text
	}

	output := renderOutput(*format, fullText, sentences, buf.DurationSec())

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to write output: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Output written to: %s\n", *outputFile)
		}
	} else {
		fmt.Print(output)
	}
}

func renderOutput(format, fullText string, sentences []compose.Sentence, durationSec float64) string {
	switch format {
	case "json":
		out, _ := json.MarshalIndent(map[string]any{
			"text":     fullText,
			"language": compose.DetectLanguage(fullText),
			"duration": durationSec,
		}, "", "  ")
		return string(out) + "\n"
	case "srt", "vtt":
		var subtitle []compose.Sentence
		for _, s := range sentences {
			subtitle = append(subtitle, compose.SplitByPunctuation(s.Text, s.Start, s.End)...)
		}
		if format == "srt" {
			return compose.FormatSRT(subtitle)
		}
		return compose.FormatVTT(subtitle)
	default:
		return fullText + "\n"
	}
}
