package analysis

import (
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestParse_GenericNamedLines(t *testing.T) {
	t.Parallel()

	msgs := NewParser().Parse("A: I love you so much!\nB: love you more babe ❤️")
	if len(msgs) != 2 {
		t.Fatalf("len(msgs)=%d, want 2", len(msgs))
	}
	if msgs[0].Sender != SenderA || msgs[1].Sender != SenderB {
		t.Fatalf("senders=%s,%s want A,B", msgs[0].Sender, msgs[1].Sender)
	}
	if msgs[0].Text != "I love you so much!" {
		t.Fatalf("text0=%q", msgs[0].Text)
	}
	if len(msgs[0].Emojis) != 0 {
		t.Fatalf("emojis0=%v", msgs[0].Emojis)
	}
	if len(msgs[1].Emojis) != 1 || msgs[1].Emojis[0] != "❤️" {
		t.Fatalf("emojis1=%q", msgs[1].Emojis)
	}
	if msgs[0].Timestamp != nil {
		t.Fatalf("generic lines should not carry timestamps")
	}
}

func TestParse_GenericNameMappingAndContinuation(t *testing.T) {
	t.Parallel()

	raw := "Me: hey\nSarah: hi there\nhow was work\nChris: yo\nYou (iPhone): ok cool"
	msgs := NewParser().Parse(raw)
	want := []Sender{SenderA, SenderB, SenderB, SenderB, SenderA}
	if len(msgs) != len(want) {
		t.Fatalf("len(msgs)=%d, want %d", len(msgs), len(want))
	}
	for i, s := range want {
		if msgs[i].Sender != s {
			t.Fatalf("msgs[%d].Sender=%s, want %s (text=%q)", i, msgs[i].Sender, s, msgs[i].Text)
		}
	}
	if msgs[2].Text != "how was work" {
		t.Fatalf("continuation text=%q", msgs[2].Text)
	}
}

func TestParse_GenericFirstLineWithoutNameIsA(t *testing.T) {
	t.Parallel()

	msgs := NewParser().Parse("just some words\nmore words")
	if len(msgs) != 2 || msgs[0].Sender != SenderA || msgs[1].Sender != SenderA {
		t.Fatalf("msgs=%+v", msgs)
	}
}

func TestParse_StructuredTimestampsAndAlternation(t *testing.T) {
	t.Parallel()

	raw := "Today 3:45 PM\nHey are you free tonight?\nYes! what time\nDelivered\n4:10 PM\nMessage\nSounds good 😊\n"
	msgs := NewParser(WithClock(fixedClock)).Parse(raw)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs)=%d, want 3: %+v", len(msgs), msgs)
	}
	want := []Sender{SenderA, SenderB, SenderA}
	for i, s := range want {
		if msgs[i].Sender != s {
			t.Fatalf("msgs[%d].Sender=%s, want %s", i, msgs[i].Sender, s)
		}
	}
	if msgs[0].Timestamp == nil || msgs[0].Timestamp.Hour() != 15 || msgs[0].Timestamp.Minute() != 45 {
		t.Fatalf("ts0=%v, want 15:45", msgs[0].Timestamp)
	}
	if msgs[2].Timestamp == nil || msgs[2].Timestamp.Hour() != 16 || msgs[2].Timestamp.Minute() != 10 {
		t.Fatalf("ts2=%v, want 16:10", msgs[2].Timestamp)
	}
	if y, m, d := msgs[0].Timestamp.Date(); y != 2024 || m != time.May || d != 10 {
		t.Fatalf("date=%d-%d-%d, want clock date", y, m, d)
	}
	if len(msgs[2].Emojis) != 1 || msgs[2].Emojis[0] != "😊" {
		t.Fatalf("emojis2=%q", msgs[2].Emojis)
	}
}

func TestParse_StructuredKeepsMessagesMentioningTimes(t *testing.T) {
	t.Parallel()

	raw := "Today 9:00 AM\nhey are you free\nyes! see you at 5:30 PM tonight\nperfect\nDelivered"
	msgs := NewParser(WithClock(fixedClock)).Parse(raw)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs)=%d, want 3: %+v", len(msgs), msgs)
	}
	if msgs[1].Text != "yes! see you at 5:30 PM tonight" || msgs[1].Sender != SenderB {
		t.Fatalf("msgs[1]=%+v", msgs[1])
	}
	if msgs[2].Text != "perfect" || msgs[2].Sender != SenderA {
		t.Fatalf("msgs[2]=%+v", msgs[2])
	}
	for i, m := range msgs {
		if m.Timestamp == nil || m.Timestamp.Hour() != 9 || m.Timestamp.Minute() != 0 {
			t.Fatalf("msgs[%d].Timestamp=%v, want 09:00", i, m.Timestamp)
		}
	}
}

func TestIsTimestampLine(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"Today 3:45 PM":              true,
		"4:10 PM":                    true,
		"Yesterday at 11:02 am":      true,
		"Fri, Jan 5 at 9:00 AM":      true,
		"Saturday 12:30PM":           true,
		"see you at 5:30 PM tonight": false,
		"5:30 PM works":              false,
		"no time here":               false,
	}
	for line, want := range cases {
		if got := isTimestampLine(line); got != want {
			t.Fatalf("isTimestampLine(%q)=%v, want %v", line, got, want)
		}
	}
}

type constClassifier Sender

func (c constClassifier) Classify(string, *Sender, int) Sender { return Sender(c) }

func TestParse_StructuredUsesInjectedClassifier(t *testing.T) {
	t.Parallel()

	p := NewParser(WithClock(fixedClock), WithSenderClassifier(constClassifier(SenderB)))
	msgs := p.Parse("9:00 AM\nmorning!\nmorning to you\n")
	if len(msgs) != 2 {
		t.Fatalf("len(msgs)=%d", len(msgs))
	}
	for i, m := range msgs {
		if m.Sender != SenderB {
			t.Fatalf("msgs[%d].Sender=%s, want B", i, m.Sender)
		}
	}
}

func TestParseClockTime_TwelveHourEdges(t *testing.T) {
	t.Parallel()

	p := NewParser(WithClock(fixedClock))
	cases := []struct {
		in         string
		hour, mins int
	}{
		{"12:05AM", 0, 5},
		{"12:30 pm", 12, 30},
		{"1:07 PM", 13, 7},
		{"11:59 am", 11, 59},
	}
	for _, tc := range cases {
		ts, ok := p.parseClockTime(tc.in)
		if !ok {
			t.Fatalf("%q: no match", tc.in)
		}
		if ts.Hour() != tc.hour || ts.Minute() != tc.mins {
			t.Fatalf("%q: got %02d:%02d, want %02d:%02d", tc.in, ts.Hour(), ts.Minute(), tc.hour, tc.mins)
		}
	}
}

func TestParse_EmptyInput(t *testing.T) {
	t.Parallel()

	msgs := NewParser().Parse(" \n\n\t")
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("msgs=%v, want empty non-nil", msgs)
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	if got := DetectFormat("Yesterday\nhi"); got != FormatStructured {
		t.Fatalf("got=%s", got)
	}
	if got := DetectFormat("Sam: hi\nMe: hey"); got != FormatGeneric {
		t.Fatalf("got=%s", got)
	}
}

func TestRemoveDuplicates_TailOverlap(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Sender: SenderA, Text: "I'll see you tonight"},
		{Sender: SenderA, Text: "you tonight"},
	}
	got := RemoveDuplicates(msgs)
	if len(got) != 1 || got[0].Text != "I'll see you tonight" {
		t.Fatalf("got=%+v", got)
	}
}

func TestRemoveDuplicates_KeepsEchoedReplyFromOtherSide(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Sender: SenderA, Text: "i love you too"},
		{Sender: SenderB, Text: "love you too"},
		{Sender: SenderB, Text: "Love you too"},
	}
	got := RemoveDuplicates(msgs)
	if len(got) != 2 || got[0].Sender != SenderA || got[1].Sender != SenderB {
		t.Fatalf("got=%+v", got)
	}
}

func TestRemoveDuplicates_ExactAndShortMessages(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Sender: SenderA, Text: "ok"},
		{Sender: SenderB, Text: "that's ok"},
		{Sender: SenderA, Text: "OK "},
		{Sender: SenderB, Text: "What are we doing this weekend?"},
		{Sender: SenderB, Text: "what are we doing   this weekend?"},
	}
	got := RemoveDuplicates(msgs)
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3: %+v", len(got), got)
	}
	if got[0].Text != "ok" || got[1].Text != "that's ok" || got[2].Text != "What are we doing this weekend?" {
		t.Fatalf("got=%+v", got)
	}
}

func TestExtractEmojis_Graphemes(t *testing.T) {
	t.Parallel()

	got := ExtractEmojis("hi 👋🏽 and 🇺🇸 ❤️ done")
	if len(got) != 3 {
		t.Fatalf("got=%q, want 3 clusters", got)
	}
	if got[0] != "👋🏽" || got[1] != "🇺🇸" || got[2] != "❤️" {
		t.Fatalf("got=%q", got)
	}
	if got := ExtractEmojis("no emoji here :)"); len(got) != 0 {
		t.Fatalf("got=%q", got)
	}
}

func TestDetectPhoto(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"[Photo]", "She sent an image", "look 📸", "Image"} {
		if !DetectPhoto(s) {
			t.Fatalf("DetectPhoto(%q)=false", s)
		}
	}
	if DetectPhoto("hello there") {
		t.Fatalf("DetectPhoto(hello there)=true")
	}
}
