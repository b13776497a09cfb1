package agreement

// EventSink is implemented by the orchestrator. Watchers push the
// normalized chain events they observe into these channels; the sink
// owns deduplication, ordering is old -> new per chain.
type EventSink interface {
	GetEscrowCreatedEventChannel() chan<- *EscrowCreatedEvent
	GetSecretRevealedEventChannel() chan<- *SecretRevealedEvent
}
