package models

import (
	"io"
	"time"
)

// Payload describes stored firmware bytes. The content itself lives in
// object storage under StorageKey; FileName is the name declared by the
// uploader.
type Payload struct {
	ID         string
	StorageKey string
	FileName   string
	Size       int64
	Digest     []byte
	UploaderID string
	CreatedAt  time.Time
}

// Upload is a payload stream as received from the request layer.
type Upload struct {
	FileName string
	Body     io.Reader
}
