package testsupport

import (
	"context"
	"sync"
	"time"

	"photoflow/internal/errs"
)

// Caps is a fake capability issuer that records the order keys were
// presigned in, so tests can assert persist-before-presign ordering.
type Caps struct {
	mu        sync.Mutex
	Issued    []string
	FailIssue error
}

func (c *Caps) IssueUploadURL(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailIssue != nil {
		return "", errs.Wrap(errs.KindStorageUnavailable, "testsupport.IssueUploadURL", c.FailIssue)
	}
	c.Issued = append(c.Issued, key)
	return "https://uploads.test/" + key, nil
}

func (c *Caps) IssueDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://downloads.test/" + key, nil
}

func (c *Caps) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

// IssuedKeys returns a copy of the presigned keys in issue order.
func (c *Caps) IssuedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Issued...)
}
