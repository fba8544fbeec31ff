package watcher

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/wilbur182/chatrelay/internal/adapter"
)

// Fingerprint summarizes what a subscriber would see of an Inbox: the
// session set, message counts, last activity, and the size and pending
// state of each session's final message. It ignores LastUpdated.
func Fingerprint(inbox *adapter.Inbox) uint64 {
	if inbox == nil {
		return 0
	}
	h := xxhash.New()
	var buf [8]byte
	writeInt := func(n int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		_, _ = h.Write(buf[:])
	}

	writeInt(int64(len(inbox.Sessions)))
	writeInt(int64(inbox.TotalMessages))
	for _, s := range inbox.Sessions {
		_, _ = h.WriteString(s.SessionID)
		_, _ = h.WriteString(s.Title)
		writeInt(int64(s.MessageCount))
		writeInt(s.LastMessageAt.UnixNano())
		if n := len(s.Messages); n > 0 {
			last := s.Messages[n-1]
			writeInt(int64(len(last.Text)))
			_, _ = h.WriteString(string(last.State))
			if last.PendingCommand != nil {
				_, _ = h.WriteString(last.PendingCommand.ToolCallID)
				_, _ = h.WriteString(last.PendingCommand.Command)
			}
			if last.Thinking != nil {
				writeInt(int64(len(last.Thinking.ThinkingParts)))
				writeInt(int64(len(last.Thinking.ToolInvocations)))
			}
		}
	}
	return h.Sum64()
}
