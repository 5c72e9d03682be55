package utils

import (
	"github.com/google/uuid"
)

// GenerateUUID tạo UUID v4 cho task ids.
func GenerateUUID() string {
	return uuid.NewString()
}
