package deepgram

import (
	"testing"

	"github.com/xiaoai/assistant/internal/speech"
)

func results(transcript string, isFinal bool, speechFinal bool) []byte {
	return []byte(`{"type":"Results","is_final":` + boolString(isFinal) +
		`,"speech_final":` + boolString(speechFinal) +
		`,"channel":{"alternatives":[{"transcript":"` + transcript + `"}]}}`)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func TestAccumulatorInterimAndFinal(t *testing.T) {
	var acc transcriptAccumulator

	events, err := acc.handle(results("xin", false, false))
	if err != nil {
		t.Fatalf("handle interim: %v", err)
	}
	if len(events) != 1 || events[0].Kind != speech.RecognitionPartial || events[0].Text != "xin" {
		t.Fatalf("interim events=%+v", events)
	}

	events, err = acc.handle(results("xin chào", true, true))
	if err != nil {
		t.Fatalf("handle final: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("final events=%+v, want partial+result", events)
	}
	if events[1].Kind != speech.RecognitionResult || events[1].Text != "xin chào" {
		t.Fatalf("result=%+v", events[1])
	}
}

func TestAccumulatorJoinsSegments(t *testing.T) {
	var acc transcriptAccumulator
	if _, err := acc.handle(results("hôm nay", true, false)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	events, _ := acc.handle(results("trời", false, false))
	if len(events) != 1 || events[0].Text != "hôm nay trời" {
		t.Fatalf("interim events=%+v", events)
	}

	if _, err := acc.handle(results("trời đẹp", true, false)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	events, _ = acc.handle([]byte(`{"type":"UtteranceEnd","last_word_end":2.1}`))
	if len(events) != 1 || events[0].Kind != speech.RecognitionResult || events[0].Text != "hôm nay trời đẹp" {
		t.Fatalf("utterance end events=%+v", events)
	}
}

func TestAccumulatorUtteranceEndWithoutTextIsNoMatch(t *testing.T) {
	var acc transcriptAccumulator
	if _, err := acc.handle([]byte(`{"type":"SpeechStarted","timestamp":0.5}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !acc.heardSpeech {
		t.Fatal("speech start should mark heardSpeech")
	}

	events, _ := acc.handle([]byte(`{"type":"UtteranceEnd"}`))
	if len(events) != 1 || events[0].Kind != speech.RecognitionError || events[0].Reason != speech.ReasonNoMatch {
		t.Fatalf("events=%+v, want no-match", events)
	}
}

func TestAccumulatorIgnoresEmptyAndUnknown(t *testing.T) {
	var acc transcriptAccumulator
	events, _ := acc.handle(results("", false, false))
	if len(events) != 0 {
		t.Fatalf("events=%+v, want none", events)
	}
	events, _ = acc.handle([]byte(`{"type":"Metadata"}`))
	if len(events) != 0 {
		t.Fatalf("events=%+v, want none", events)
	}
	if _, err := acc.handle([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
