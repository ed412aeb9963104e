package audio

// Chunker cuts a mono PCM16 stream into fixed-duration chunks.
type Chunker struct {
	chunkBytes int
	buf        []byte
}

// NewChunker creates a chunker emitting chunkMs of audio at sampleRate.
func NewChunker(sampleRate int, chunkMs int) *Chunker {
	frames := sampleRate * chunkMs / 1000
	if frames <= 0 {
		frames = 1
	}
	return &Chunker{chunkBytes: frames * 2}
}

// Write buffers pcm and returns every complete chunk.
func (c *Chunker) Write(pcm []byte) [][]byte {
	c.buf = append(c.buf, pcm...)
	var chunks [][]byte
	for len(c.buf) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.buf[:c.chunkBytes])
		c.buf = c.buf[c.chunkBytes:]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns the buffered remainder, if any.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	rest := c.buf
	c.buf = nil
	return rest
}
