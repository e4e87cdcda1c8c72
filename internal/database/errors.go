package database

import "errors"

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrSyncTaskNotFound = errors.New("sync task not found")
)
