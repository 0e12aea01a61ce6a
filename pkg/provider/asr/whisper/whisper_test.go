package whisper_test

import (
	"testing"

	"github.com/cadenza-audio/cadenza/pkg/provider/asr/whisper"
)

func TestNew_EmptyModelPath_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty modelPath, got nil")
	}
}

func TestNew_MissingModelFile_ReturnsError(t *testing.T) {
	_, err := whisper.New("/nonexistent/model.bin")
	if err == nil {
		t.Fatal("expected error for missing model file, got nil")
	}
}
