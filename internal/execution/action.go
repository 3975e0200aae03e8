package execution

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRequestID tags one build/simulate request in logs and output envelopes.
func NewRequestID() string {
	return fmt.Sprintf("req_%s", uuid.NewString())
}
