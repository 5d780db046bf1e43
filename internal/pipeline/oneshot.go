package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"importflow/internal"
)

// ExtractRecordsFromFile reads order records from a file that needs no vision
// model.
func ExtractRecordsFromFile(inputType, path string) ([]internal.OrderRecord, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch inputType {
	case "text":
		return single(parseOrderText(string(blob)), internal.SourceEmailText), nil
	case "html":
		return single(parseOrderHTML(string(blob)), internal.SourceEmailHTML), nil
	case "xlsx":
		return parseXLSX(blob)
	case "pdf":
		ro, err := parsePDF(blob)
		if err != nil {
			return nil, err
		}
		return single(ro, internal.SourcePDF), nil
	case "eml":
		parsed, err := ParseEmail(blob)
		if err != nil {
			return nil, err
		}
		return parsed.Records, nil
	default:
		return nil, fmt.Errorf("unsupported input type: %s", inputType)
	}
}

// ExtractRecordsFromInput is ExtractRecordsFromFile plus images, which go
// through extractor.
func ExtractRecordsFromInput(ctx context.Context, extractor Extractor, inputType, path string) ([]internal.OrderRecord, error) {
	if inputType == "" {
		inputType = inputTypeFor(path)
	}
	if inputType != "image" {
		return ExtractRecordsFromFile(inputType, path)
	}
	if extractor == nil {
		return nil, ErrNoExtractor
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	answer, err := extractor.Extract(ctx, blob, mimeTypeFor(path))
	if err != nil {
		return nil, err
	}
	raw, err := DecodeRawOrder(answer)
	if err != nil {
		return nil, err
	}
	return []internal.OrderRecord{NormalizeOrder(raw, internal.SourceScreenshot)}, nil
}

func single(ro RawOrder, source internal.RecordSource) []internal.OrderRecord {
	if !ro.hasOrder() {
		return nil
	}
	return []internal.OrderRecord{NormalizeOrder(ro, source)}
}

// inputTypeFor guesses the input type from a file extension.
func inputTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case isImageName(ext):
		return "image"
	case ext == ".html" || ext == ".htm":
		return "html"
	case ext == ".xlsx":
		return "xlsx"
	case ext == ".pdf":
		return "pdf"
	case ext == ".eml":
		return "eml"
	default:
		return "text"
	}
}

func IsImageFile(path string) bool {
	return inputTypeFor(path) == "image"
}
