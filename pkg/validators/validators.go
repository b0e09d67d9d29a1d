// Package validators holds field-level validation helpers for bus
// configuration values.
package validators

import (
	"fmt"

	"github.com/asaskevich/govalidator"
)

// Host validates a broker hostname or IP address.
func Host(value string) error {
	if value == "" {
		return fmt.Errorf("host is required")
	}
	if !govalidator.IsHost(value) {
		return fmt.Errorf("host %q is not a valid hostname or IP address", value)
	}
	return nil
}

// Port validates a TCP port number.
func Port(value int) error {
	if value < 1 || value > 65535 {
		return fmt.Errorf("port %d is out of range 1-65535", value)
	}
	return nil
}

// ServiceName validates a service name used in queue and routing-key
// construction. Dots would collide with the routing-key separator.
func ServiceName(value string) error {
	if value == "" {
		return fmt.Errorf("service name is required")
	}
	if !govalidator.Matches(value, `^[A-Za-z0-9_-]+$`) {
		return fmt.Errorf("service name %q may only contain letters, digits, '-' and '_'", value)
	}
	return nil
}
