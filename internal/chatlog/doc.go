// Package chatlog replays editor chat-session logs into a mutable document.
// A session file is either one JSON document (.json) or a sequence of
// JSON-Lines mutation operations (.jsonl) applied strictly in file order.
package chatlog
