package checksum

// Chunk is a contiguous byte interval of a remote file.
type Chunk struct {
	Offset int64
	Length int64
}

// End returns the inclusive offset of the chunk's last byte.
func (c Chunk) End() int64 {
	return c.Offset + c.Length - 1
}

// Split divides [0, size) into chunks of chunkSize bytes; the last chunk
// holds the remainder. An empty file yields no chunks.
func Split(size, chunkSize int64) []Chunk {
	if size <= 0 {
		return nil
	}
	if chunkSize <= 0 || chunkSize > size {
		chunkSize = size
	}

	chunks := make([]Chunk, 0, (size+chunkSize-1)/chunkSize)
	for offset := int64(0); offset < size; offset += chunkSize {
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		chunks = append(chunks, Chunk{Offset: offset, Length: length})
	}
	return chunks
}
