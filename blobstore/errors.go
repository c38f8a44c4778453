package blobstore

import (
	"errors"
	"os"
)

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, ErrNotFound)
}
