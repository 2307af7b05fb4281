package blobstore

import (
	"fmt"
	"path"

	"github.com/google/uuid"
)

// ObjectKey builds the storage key for an original upload:
// {userID}/{photoID}/{filename}.
func ObjectKey(userID string, photoID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", userID, photoID, path.Base(filename))
}

// ThumbnailKey derives the thumbnail key from an original's key by
// inserting a thumbnails/ segment before the filename.
func ThumbnailKey(key string) string {
	dir, file := path.Split(key)
	return dir + "thumbnails/" + file
}
