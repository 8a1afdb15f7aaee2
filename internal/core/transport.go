package core

// Frame is one encoded signaling message.
type Frame []byte

// Transport is the outbound half of a signaling connection. It is owned by
// the adapter that created it. TrySend never blocks; Close flushes queued
// frames and then closes the underlying connection.
type Transport interface {
	TrySend(Frame) error
	Close()
}
