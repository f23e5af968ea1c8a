// utils/utils.go

package utils

import (
	"github.com/google/uuid"
)

func GenerateUUIDString() string {
	id := uuid.New()
	return id.String()
}

// ShortID returns the first block of a fresh uuid, used to tell connections apart in logs.
func ShortID() string {
	return GenerateUUIDString()[:8]
}
