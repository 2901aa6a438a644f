package utils

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugeFrog24/gpt-diarizer/media"
	"github.com/rs/zerolog"
)

const noAudioMarker = "No audio"

var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true,
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true, ".ogg": true,
}

type DiarizationRecord struct {
	MediaFile string `xml:"MediaFile"`
	Result
	Error string `xml:"Error,omitempty"`
}

// Done reports whether the record needs no further processing.
func (r DiarizationRecord) Done() bool {
	return r.DiarizationResult != "" || r.Error == noAudioMarker
}

type DiarizationResults struct {
	XMLName xml.Name            `xml:"DiarizationResults"`
	Results []DiarizationRecord `xml:"Result"`
}

type BatchOptions struct {
	ChunkSeconds int
	Summarize    bool
	Logger       zerolog.Logger
}

// ProcessDirectory diarizes every media file under dir, resuming from the
// results already stored in outputXML and rewriting it after each file.
// Files without an audio stream are recorded and skipped; any other
// failure stops the walk.
func ProcessDirectory(ctx context.Context, dir, outputXML string, runner PipelineRunner, opts BatchOptions) (DiarizationResults, error) {
	results, err := readResults(outputXML)
	if err != nil {
		return DiarizationResults{}, err
	}

	processed := make(map[string]int, len(results.Results))
	for i, record := range results.Results {
		processed[record.MediaFile] = i
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !mediaExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		idx, exists := processed[path]
		if exists && results.Results[idx].Done() {
			opts.Logger.Info().Str("file", path).Msg("already processed, skipping")
			return nil
		}

		record := DiarizationRecord{MediaFile: path}
		result, err := runner.Run(ctx, Request{
			AudioPath:    path,
			AudioName:    filepath.Base(path),
			ChunkSeconds: opts.ChunkSeconds,
			Summarize:    opts.Summarize,
		}, nil)
		switch {
		case errors.Is(err, media.ErrNoAudioStream):
			opts.Logger.Info().Str("file", path).Msg("skipping file without audio stream")
			record.Error = noAudioMarker
		case err != nil:
			return fmt.Errorf("failed to process media file '%s': %w", path, err)
		default:
			record.Result = result
		}

		if exists {
			results.Results[idx] = record
		} else {
			processed[path] = len(results.Results)
			results.Results = append(results.Results, record)
		}

		if err := writeXMLFile(outputXML, results); err != nil {
			return fmt.Errorf("failed to write XML file: %w", err)
		}
		return nil
	})
	if err != nil {
		return DiarizationResults{}, err
	}

	return results, nil
}

func readResults(outputXML string) (DiarizationResults, error) {
	var results DiarizationResults
	data, err := os.ReadFile(outputXML)
	if errors.Is(err, os.ErrNotExist) {
		return results, nil
	}
	if err != nil {
		return results, fmt.Errorf("failed to open existing XML file: %w", err)
	}
	if err := xml.Unmarshal(data, &results); err != nil {
		return results, fmt.Errorf("failed to decode existing XML: %w", err)
	}
	return results, nil
}

// writeXMLFile replaces outputXML atomically so an interrupted run keeps
// the previous results.
func writeXMLFile(outputXML string, results DiarizationResults) error {
	tmp, err := os.CreateTemp(filepath.Dir(outputXML), ".results-*.xml")
	if err != nil {
		return fmt.Errorf("failed to create XML file '%s': %w", outputXML, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(xml.Header); err != nil {
		tmp.Close()
		return err
	}
	encoder := xml.NewEncoder(tmp)
	encoder.Indent("", "  ")
	if err := encoder.Encode(results); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode XML to '%s': %w", outputXML, err)
	}
	if err := encoder.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush XML encoder: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outputXML)
}
