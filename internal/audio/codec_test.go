package audio

import (
	"testing"
)

func TestMulawRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 8000, -8000}

	for _, sample := range samples {
		encoded := LinearToMulaw(sample)
		decoded := MulawToLinear(encoded)

		// mu-law is lossy; error grows with magnitude
		diff := int32(sample) - int32(decoded)
		if diff < 0 {
			diff = -diff
		}
		tolerance := int32(sample) / 8
		if tolerance < 0 {
			tolerance = -tolerance
		}
		if tolerance < 40 {
			tolerance = 40
		}
		if diff > tolerance {
			t.Errorf("Sample %d: decoded to %d, diff %d exceeds tolerance %d", sample, decoded, diff, tolerance)
		}
	}
}

func TestPCMToMulaw(t *testing.T) {
	// 16 samples of 16-bit PCM at 24kHz
	pcmData := make([]byte, 32)
	for i := 0; i < 16; i++ {
		pcmData[i*2] = byte(i * 100)
		pcmData[i*2+1] = 0
	}

	mulawData, err := PCMToMulaw(pcmData, 24000, 8000)
	if err != nil {
		t.Fatalf("PCMToMulaw failed: %v", err)
	}

	// 24kHz -> 8kHz downsamples 3:1
	expectedLen := 16 / 3
	if len(mulawData) != expectedLen {
		t.Errorf("Expected %d mu-law bytes, got %d", expectedLen, len(mulawData))
	}
}

func TestPCMToMulaw_EmptyInput(t *testing.T) {
	if _, err := PCMToMulaw(nil, 24000, 8000); err == nil {
		t.Error("Expected error for empty PCM data")
	}
}

func TestPCMToMulaw_OddLength(t *testing.T) {
	if _, err := PCMToMulaw([]byte{1, 2, 3}, 24000, 8000); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestMulawToPCM(t *testing.T) {
	mulawData := []byte{0xFF, 0x7F, 0x00}

	pcmData, err := MulawToPCM(mulawData)
	if err != nil {
		t.Fatalf("MulawToPCM failed: %v", err)
	}

	if len(pcmData) != len(mulawData)*2 {
		t.Errorf("Expected %d PCM bytes, got %d", len(mulawData)*2, len(pcmData))
	}
}

func TestResample_SameRate(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	out := Resample(samples, 8000, 8000)

	if len(out) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(out))
	}
}

func TestResample_Downsample(t *testing.T) {
	samples := make([]int16, 240) // 10ms at 24kHz
	for i := range samples {
		samples[i] = int16(i)
	}

	out := Resample(samples, 24000, 8000)
	if len(out) != 80 { // 10ms at 8kHz
		t.Errorf("Expected 80 samples, got %d", len(out))
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0 for empty input, got %f", rms)
	}

	silence := make([]int16, 160)
	if rms := CalculateRMS(silence); rms != 0.0 {
		t.Errorf("Expected RMS 0 for silence, got %f", rms)
	}

	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 5000
	}
	if rms := CalculateRMS(loud); rms != 5000.0 {
		t.Errorf("Expected RMS 5000 for constant signal, got %f", rms)
	}
}
