package rabbitmq

import (
	"fmt"
	"strings"
)

// Topology names and routing keys are pure functions of the message type
// and the configured prefixes; no key is ever managed by hand.
//
//	exchange  {prefix}.events                     {prefix}.commands
//	queue     {prefix}.{service}.events           {prefix}.{target}.commands
//	key       event.{type}                        command.{target}.{type}
//
// Type and service segments are lowercased in routing keys.

// EventsExchange returns the topic exchange all events are published to.
func EventsExchange(prefix string) string {
	return prefix + ".events"
}

// CommandsExchange returns the topic exchange all commands are published to.
func CommandsExchange(prefix string) string {
	return prefix + ".commands"
}

// EventsQueue returns the per-subscribing-service event queue name.
func EventsQueue(prefix, service string) string {
	return fmt.Sprintf("%s.%s.events", prefix, service)
}

// CommandsQueue returns the per-target-service command queue name.
func CommandsQueue(prefix, targetService string) string {
	return fmt.Sprintf("%s.%s.commands", prefix, targetService)
}

// EventRoutingKey returns the routing key for an event message type.
func EventRoutingKey(messageType string) string {
	return "event." + strings.ToLower(messageType)
}

// CommandRoutingKey returns the routing key for a command message type
// addressed at targetService.
func CommandRoutingKey(targetService, messageType string) string {
	return fmt.Sprintf("command.%s.%s", strings.ToLower(targetService), strings.ToLower(messageType))
}
