package common

import (
	"github.com/apex/log"
)

// Component base structure for a named component with fixed logging metadata
type Component struct {
	LogTags log.Fields
}
