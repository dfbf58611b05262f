package portmap

import (
	"errors"
	"fmt"
)

// ErrServiceNotFound is matched by *ServiceNotFoundError through errors.Is.
var ErrServiceNotFound = errors.New("portmap: service not registered")

// ServiceNotFoundError reports a GETPORT answer of port 0: nothing is
// registered for the (program, version, protocol) triple.
type ServiceNotFoundError struct {
	Prog uint32
	Vers uint32
	Prot uint32
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("portmap: program %d version %d not registered for %s", e.Prog, e.Vers, ProtoName(e.Prot))
}

func (e *ServiceNotFoundError) Is(target error) bool { return target == ErrServiceNotFound }
