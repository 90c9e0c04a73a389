package edge

import (
	"fmt"

	"github.com/epochflow/epochflow/models"
)

// Message represents data to be passed along an edge.
// Messages can be shared across many contexts and must not be mutated.
type Message interface {
	// Type returns the type of the message.
	Type() MessageType
}

type MessageType int

const (
	Record MessageType = iota
	Tokens
	Output
	Barrier
)

func (m MessageType) String() string {
	switch m {
	case Record:
		return "record"
	case Tokens:
		return "tokens"
	case Output:
		return "output"
	case Barrier:
		return "barrier"
	default:
		return fmt.Sprintf("unknown message type %d", int(m))
	}
}

// RecordMessage carries a raw source record.
type RecordMessage struct {
	models.Record
}

func NewRecordMessage(r models.Record) RecordMessage {
	return RecordMessage{Record: r}
}

func (RecordMessage) Type() MessageType { return Record }

// TokensMessage carries the tokens of a single source record.
type TokensMessage struct {
	models.Tokens
}

func NewTokensMessage(offset int64, tokens []string) TokensMessage {
	return TokensMessage{Tokens: models.Tokens{Offset: offset, Tokens: tokens}}
}

func (TokensMessage) Type() MessageType { return Tokens }

// OutputMessage carries an aggregate snapshot destined for the sink.
type OutputMessage struct {
	models.OutputRecord
}

func NewOutputMessage(o models.OutputRecord) OutputMessage {
	return OutputMessage{OutputRecord: o}
}

func (OutputMessage) Type() MessageType { return Output }

// BarrierMessage marks a consistent cut in the stream.
// Every message collected before the barrier belongs to the epoch,
// every message collected after it does not.
type BarrierMessage struct {
	Epoch uint64
	// Offset is the source offset of the first record after the cut.
	Offset int64
}

func NewBarrierMessage(epoch uint64, offset int64) BarrierMessage {
	return BarrierMessage{Epoch: epoch, Offset: offset}
}

func (BarrierMessage) Type() MessageType { return Barrier }

func (b BarrierMessage) EpochInfo() models.Epoch {
	return models.Epoch{ID: b.Epoch, Offset: b.Offset}
}
