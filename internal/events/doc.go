// Package events carries task-creation notifications from an event source
// (Postgres LISTEN/NOTIFY or a RabbitMQ queue) to the components that react to
// them, without either side knowing about the other.
//
// The primary components are:
// - TaskCreatedEvent: Announces that a todo was inserted
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
