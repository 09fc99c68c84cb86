package engine

import (
	"strings"
	"testing"
)

func TestSignalsShortAnswerIsLowConfidence(t *testing.T) {
	tr := NewSignalTracker()
	sig := tr.Update(7, "I used a hash map")
	if sig.Confidence != ConfidenceLow {
		t.Fatalf("confidence = %q, want low for short answers", sig.Confidence)
	}
	if sig.Interrupt {
		t.Fatal("a short answer must not trigger an interrupt hint")
	}
}

func TestSignalsSubstantiveAnswerIsHighConfidence(t *testing.T) {
	tr := NewSignalTracker()
	text := "I designed the ingestion service around a bounded queue with backpressure " +
		"and measured throughput before and after the change to validate the result"
	sig := tr.Update(7, text)
	if sig.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %q, want high", sig.Confidence)
	}
	if sig.WordCount != len(strings.Fields(text)) {
		t.Fatalf("word count = %d, want %d", sig.WordCount, len(strings.Fields(text)))
	}
}

func TestSignalsRamblingTriggersAdvisoryInterrupt(t *testing.T) {
	tr := NewSignalTracker()
	long := strings.Repeat("the project involved many moving parts and ", 40)
	sig := tr.Update(7, long)
	if !sig.Interrupt {
		t.Fatalf("answer of %d words must trigger the rambling hint", sig.WordCount)
	}
	if sig.Followup == "" {
		t.Fatal("an interrupt hint must carry a follow-up prompt")
	}
}

func TestSignalsDriftAccumulatesAcrossUpdates(t *testing.T) {
	tr := NewSignalTracker()
	// Filler-heavy updates long enough to count against drift.
	text := "um so basically you know like actually um so basically you know " +
		"like actually um so basically you know like actually"
	var sig LiveSignal
	for i := 0; i < 5; i++ {
		sig = tr.Update(3, text)
	}
	if !sig.Interrupt {
		t.Fatalf("drift score should force an interrupt hint after repeated filler-heavy updates (fillers=%d)", sig.FillerCount)
	}
}

func TestSignalsClearResetsQuestionState(t *testing.T) {
	tr := NewSignalTracker()
	long := strings.Repeat("word ", 130)
	if sig := tr.Update(9, long); !sig.Interrupt {
		t.Fatal("precondition: long answer interrupts")
	}
	tr.Clear(9)
	if sig := tr.Update(9, "short answer"); sig.Interrupt {
		t.Fatal("state must reset after Clear")
	}
}
