package chat

import "context"

// DefaultChunkSize is the longest single outbound message, in runes.
const DefaultChunkSize = 500

// Chunk splits text into pieces of at most size runes. It always
// returns at least one piece, so an empty text yields [""].
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	parts := make([]string, 0, len(runes)/size+1)
	for len(runes) > size {
		parts = append(parts, string(runes[:size]))
		runes = runes[size:]
	}
	return append(parts, string(runes))
}

// chunked splits long messages before handing them to the wrapped
// transport. Only the first piece of a room message carries the mention.
type chunked struct {
	next Transport
	size int
}

// Chunked wraps t so every outbound message is split with Chunk.
func Chunked(t Transport, size int) Transport {
	return &chunked{next: t, size: size}
}

func (c *chunked) SendToUser(ctx context.Context, name, text string) error {
	for _, part := range Chunk(text, c.size) {
		if err := c.next.SendToUser(ctx, name, part); err != nil {
			return err
		}
	}
	return nil
}

func (c *chunked) SendToRoom(ctx context.Context, room, text, mention string) error {
	for i, part := range Chunk(text, c.size) {
		m := mention
		if i > 0 {
			m = ""
		}
		if err := c.next.SendToRoom(ctx, room, part, m); err != nil {
			return err
		}
	}
	return nil
}
