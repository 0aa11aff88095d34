package iostate

import "github.com/zkrollup/zkos/core/types"

// Event is one emitted log, tagged with the transaction that produced it
// (spec §4.7: append-only, tx-number tagged).
type Event struct {
	TxNumber uint32
	Address  types.Address
	Topics   []types.Hash
	Data     []byte
}

// Message is one L2->L1 message.
type Message struct {
	TxNumber uint32
	Sender   types.Address
	Data     []byte
}

// messagePubdataOverhead is the fixed per-message prefix accounted for in
// pubdata: 4 (tx number) + 20 (sender) + 88 (fixed protocol overhead),
// plus the variable data length.
const messagePubdataOverhead = 4 + 20 + 88

// EventJournal is the append-only, snapshot-rollback event log of
// spec §4.7.
type EventJournal struct {
	events []Event
}

// StartFrame returns the current length as a rollback checkpoint.
func (j *EventJournal) StartFrame() int { return len(j.events) }

// Rollback truncates to checkpoint, discarding everything emitted since.
func (j *EventJournal) Rollback(checkpoint int) { j.events = j.events[:checkpoint] }

// Emit appends an event; O(1).
func (j *EventJournal) Emit(e Event) { j.events = append(j.events, e) }

// Events returns the full, currently-live event list.
func (j *EventJournal) Events() []Event { return j.events }

// MessageJournal is the append-only, snapshot-rollback L2->L1 message log,
// additionally maintaining a running pubdata-bytes prefix sum so "pubdata
// bytes used by messages at snapshot X" is O(1).
type MessageJournal struct {
	messages   []Message
	prefixSum  []int // prefixSum[i] = total pubdata bytes after messages[:i+1]
}

// StartFrame returns the current length as a rollback checkpoint.
func (j *MessageJournal) StartFrame() int { return len(j.messages) }

// Rollback truncates to checkpoint.
func (j *MessageJournal) Rollback(checkpoint int) {
	j.messages = j.messages[:checkpoint]
	j.prefixSum = j.prefixSum[:checkpoint]
}

// Emit appends a message, updating the pubdata prefix sum.
func (j *MessageJournal) Emit(m Message) {
	prev := 0
	if n := len(j.prefixSum); n > 0 {
		prev = j.prefixSum[n-1]
	}
	j.messages = append(j.messages, m)
	j.prefixSum = append(j.prefixSum, prev+messagePubdataOverhead+len(m.Data))
}

// Messages returns the full, currently-live message list.
func (j *MessageJournal) Messages() []Message { return j.messages }

// PubdataBytesAt returns the total pubdata bytes contributed by messages
// at the given snapshot checkpoint, in O(1).
func (j *MessageJournal) PubdataBytesAt(checkpoint int) int {
	if checkpoint == 0 {
		return 0
	}
	return j.prefixSum[checkpoint-1]
}

// TotalPubdataBytes returns the pubdata bytes contributed by every live
// message.
func (j *MessageJournal) TotalPubdataBytes() int {
	return j.PubdataBytesAt(len(j.messages))
}
