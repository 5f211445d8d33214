package protocol

import "context"

// ReadOutcome is the engine's answer to one pulled read size.
type ReadOutcome interface{ isReadOutcome() }

// ReadOk carries bytes read from the network. Its length is in (0, n].
type ReadOk struct{ Bytes []byte }

// ReadErr carries an engine error message.
type ReadErr struct{ Message string }

// ReadEos ends the read direction.
type ReadEos struct{}

func (ReadOk) isReadOutcome()  {}
func (ReadErr) isReadOutcome() {}
func (ReadEos) isReadOutcome() {}

// WriteOutcome is the engine's answer to one pulled write buffer.
type WriteOutcome interface{ isWriteOutcome() }

// WriteOk means the whole buffer was accepted.
type WriteOk struct{}

// WriteErr carries an engine error message.
type WriteErr struct{ Message string }

// WriteEos ends the write direction.
type WriteEos struct{}

func (WriteOk) isWriteOutcome()  {}
func (WriteErr) isWriteOutcome() {}
func (WriteEos) isWriteOutcome() {}

// StreamConsumer is the engine-facing half of a stream's read side.
//
// NextReadSize blocks until the application asks for bytes; ok is false once
// the read side is closed or ctx is done. Each size pulled must be answered by
// exactly one ReportRead.
type StreamConsumer interface {
	NextReadSize(ctx context.Context) (n uint32, ok bool)
	ReportRead(ReadOutcome)
}

// StreamProducer is the engine-facing half of a stream's write side.
type StreamProducer interface {
	NextWriteBuffer(ctx context.Context) (b []byte, ok bool)
	ReportWrite(WriteOutcome)
}
