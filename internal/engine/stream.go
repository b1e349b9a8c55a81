package engine

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Event is one decoded semantic update from a provider stream. Progress is
// -1 when the chunk carried no progress phrase.
type Event struct {
	Progress    int
	ArtifactRef string
	Done        bool
}

var (
	progressRe = regexp.MustCompile(`(?i)progress[:：]\s*(\d{1,3})%`)
	mdLinkRe   = regexp.MustCompile(`\[[^\]]*\]\((https?://[^\s)]+)\)`)
)

var defaultDonePhrases = []string{
	"generation complete",
	"generation succeeded",
	"successfully generated",
}

var defaultArtifactExts = []string{".png", ".jpg", ".jpeg", ".webp", ".gif", ".mp4", ".mov", ".mp3", ".wav"}

// DecoderOptions tunes the stream decoder for one provider's framing.
type DecoderOptions struct {
	// Marker prefixes event lines; defaults to "data: ".
	Marker string
	// EndMarker terminates the stream explicitly; defaults to "[DONE]".
	EndMarker string
	// ArtifactExts are the URL extensions recognized as artifacts.
	ArtifactExts []string
	// DonePhrases mark explicit success inside event text.
	DonePhrases []string
}

// Decoder incrementally turns raw streamed bytes into Events. It performs no
// I/O: each Feed call splits the chunk plus carried-over bytes on newlines,
// keeps the trailing partial line for the next call, and extracts progress,
// artifact references and completion markers from complete event lines.
// Feeding the same byte sequence through any chunking yields the same events.
type Decoder struct {
	opts  DecoderOptions
	carry []byte
}

// NewDecoder constructs a decoder, applying defaults for unset options.
func NewDecoder(opts DecoderOptions) *Decoder {
	if opts.Marker == "" {
		opts.Marker = "data: "
	}
	if opts.EndMarker == "" {
		opts.EndMarker = "[DONE]"
	}
	if len(opts.ArtifactExts) == 0 {
		opts.ArtifactExts = defaultArtifactExts
	}
	if len(opts.DonePhrases) == 0 {
		opts.DonePhrases = defaultDonePhrases
	}
	return &Decoder{opts: opts}
}

// Feed consumes one raw chunk and returns the events decoded from every
// complete line it finished.
func (d *Decoder) Feed(chunk []byte) []Event {
	lines, rest := splitLines(append(d.carry, chunk...))
	d.carry = rest

	var events []Event
	for _, line := range lines {
		if event, ok := d.decodeLine(line); ok {
			events = append(events, event)
		}
	}
	return events
}

// Flush decodes whatever remains in the carry buffer as a final line. Call
// once at end of stream.
func (d *Decoder) Flush() []Event {
	if len(d.carry) == 0 {
		return nil
	}
	line := string(d.carry)
	d.carry = nil
	if event, ok := d.decodeLine(line); ok {
		return []Event{event}
	}
	return nil
}

func (d *Decoder) decodeLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, d.opts.Marker) {
		return Event{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, d.opts.Marker))
	if payload == "" || payload == d.opts.EndMarker {
		return Event{}, false
	}

	text := eventText(payload)
	if text == "" {
		return Event{}, false
	}

	event := Event{Progress: -1}
	if m := progressRe.FindStringSubmatch(text); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct <= 100 {
			event.Progress = pct
		}
	}
	event.ArtifactRef = d.extractArtifact(text)
	event.Done = containsAny(strings.ToLower(text), d.opts.DonePhrases)

	if event.Progress < 0 && event.ArtifactRef == "" && !event.Done {
		return Event{}, false
	}
	return event, true
}

type streamPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content string `json:"content"`
}

// eventText pulls the human-readable delta out of a chat-style JSON payload.
// Non-JSON payloads are scanned as-is.
func eventText(payload string) string {
	if !strings.HasPrefix(payload, "{") {
		return payload
	}
	var decoded streamPayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return ""
	}
	var b strings.Builder
	for _, choice := range decoded.Choices {
		b.WriteString(choice.Delta.Content)
		b.WriteString(choice.Message.Content)
	}
	b.WriteString(decoded.Content)
	return b.String()
}

func (d *Decoder) extractArtifact(text string) string {
	if m := mdLinkRe.FindStringSubmatch(text); m != nil {
		if d.hasArtifactExt(m[1]) {
			return m[1]
		}
	}
	for _, field := range strings.Fields(text) {
		candidate := strings.Trim(field, `"'<>()[]`)
		if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
			continue
		}
		if d.hasArtifactExt(candidate) {
			return candidate
		}
	}
	return ""
}

func (d *Decoder) hasArtifactExt(rawURL string) bool {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	lower := strings.ToLower(trimmed)
	for _, ext := range d.opts.ArtifactExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// splitLines splits buf on newlines, returning complete lines and the
// trailing partial line as carry-over.
func splitLines(buf []byte) ([]string, []byte) {
	var lines []string
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(buf[:idx]))
		buf = buf[idx+1:]
	}
	rest := make([]byte, len(buf))
	copy(rest, buf)
	return lines, rest
}
