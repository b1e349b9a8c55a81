package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = `data: {"choices":[{"delta":{"content":"progress: 10%"}}]}
data: {"choices":[{"delta":{"content":"rendering frame batch"}}]}
data: {"choices":[{"delta":{"content":"progress: 55%"}}]}
: keepalive comment
data: {"choices":[{"delta":{"content":"here is your file [result](https://cdn.example.com/out/abc123.png)"}}]}
data: {"choices":[{"delta":{"content":"progress: 90% generation complete"}}]}
data: [DONE]
`

func collect(decoder *Decoder, chunks ...[]byte) []Event {
	var events []Event
	for _, chunk := range chunks {
		events = append(events, decoder.Feed(chunk)...)
	}
	events = append(events, decoder.Flush()...)
	return events
}

func TestDecoderExtractsEvents(t *testing.T) {
	events := collect(NewDecoder(DecoderOptions{}), []byte(sampleStream))
	require.Len(t, events, 4)

	assert.Equal(t, 10, events[0].Progress)
	assert.Equal(t, 55, events[1].Progress)
	assert.Equal(t, "https://cdn.example.com/out/abc123.png", events[2].ArtifactRef)
	assert.False(t, events[2].Done, "artifact may arrive before the success marker")
	assert.Equal(t, 90, events[3].Progress)
	assert.True(t, events[3].Done)
}

func TestDecoderRestartability(t *testing.T) {
	whole := collect(NewDecoder(DecoderOptions{}), []byte(sampleStream))

	raw := []byte(sampleStream)
	for _, size := range []int{1, 3, 7, 16, 64, 1024} {
		decoder := NewDecoder(DecoderOptions{})
		var chunks [][]byte
		for start := 0; start < len(raw); start += size {
			end := start + size
			if end > len(raw) {
				end = len(raw)
			}
			chunks = append(chunks, raw[start:end])
		}
		assert.Equal(t, whole, collect(decoder, chunks...), "chunk size %d", size)
	}
}

func TestDecoderBareURL(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"done! https://files.example.com/v/clip.mp4?sig=abc generation succeeded\"}}]}\n"
	events := collect(NewDecoder(DecoderOptions{}), []byte(input))
	require.Len(t, events, 1)
	assert.Equal(t, "https://files.example.com/v/clip.mp4?sig=abc", events[0].ArtifactRef)
	assert.True(t, events[0].Done)
}

func TestDecoderIgnoresNonConformingLines(t *testing.T) {
	input := "event: ping\ndata: not json but no signal here\ndata: {\"broken json\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"progress: 5%\"}}]}\n"
	events := collect(NewDecoder(DecoderOptions{}), []byte(input))
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].Progress)
}

func TestDecoderTrailingLineWithoutNewline(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"progress: 42%\"}}]}"
	decoder := NewDecoder(DecoderOptions{})
	assert.Empty(t, decoder.Feed([]byte(input)), "partial line must be carried over")
	events := decoder.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, 42, events[0].Progress)
}

func TestDecoderRejectsOutOfRangeProgress(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"progress: 250%\"}}]}\n"
	events := collect(NewDecoder(DecoderOptions{}), []byte(input))
	assert.Empty(t, events)
}

func TestDecoderPlainTextPayload(t *testing.T) {
	input := "data: progress: 77%\ndata: [DONE]\n"
	events := collect(NewDecoder(DecoderOptions{}), []byte(input))
	require.Len(t, events, 1)
	assert.Equal(t, 77, events[0].Progress)
}

func TestDecoderCRLF(t *testing.T) {
	input := "data: progress: 31%\r\ndata: progress: 64%\r\n"
	events := collect(NewDecoder(DecoderOptions{}), []byte(input))
	require.Len(t, events, 2)
	assert.Equal(t, 31, events[0].Progress)
	assert.Equal(t, 64, events[1].Progress)
}

func TestDecoderMarkdownLinkWrongExtensionIgnored(t *testing.T) {
	input := "data: see [docs](https://example.com/help.html) progress: 12%\n"
	events := collect(NewDecoder(DecoderOptions{}), []byte(input))
	require.Len(t, events, 1)
	assert.Empty(t, events[0].ArtifactRef)
	assert.Equal(t, 12, events[0].Progress)
}
