package chat

import (
	"chatrelay/internal/models"
	"chatrelay/internal/tokens"
)

// Window returns the longest contiguous suffix of msgs whose combined token
// cost fits under ceiling. Messages are scanned newest-first and accepted
// greedily; the first message that would exceed the ceiling ends the scan,
// so older messages are never revisited. A single trailing message larger
// than the ceiling yields an empty window.
func Window(msgs []*models.Message, ceiling int, counter tokens.Counter) []*models.Message {
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := counter.CountMessageTokens(msgs[i].Role, msgs[i].Content)
		if total+cost > ceiling {
			break
		}
		total += cost
		start = i
	}
	return msgs[start:]
}
