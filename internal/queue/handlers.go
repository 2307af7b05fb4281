package queue

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"photoflow/internal/blobstore"
	"photoflow/internal/errs"
	"photoflow/internal/labels"
	"photoflow/internal/storage"
)

// ThumbnailSide is the edge length of derived square thumbnails.
const ThumbnailSide = 256

// MinLabelConfidence filters out low-certainty suggestions.
const MinLabelConfidence = 0.70

// ObjectStore is the slice of blobstore the workers need.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// PhotoPatcher writes derived fields back onto photo records.
type PhotoPatcher interface {
	UpdatePhoto(ctx context.Context, id uuid.UUID, patch storage.PhotoPatch) error
}

// ThumbnailHandler derives a center-cropped square thumbnail for a photo
// and records its key. Failures never touch the photo's primary status.
type ThumbnailHandler struct {
	objects ObjectStore
	photos  PhotoPatcher
}

func NewThumbnailHandler(objects ObjectStore, photos PhotoPatcher) *ThumbnailHandler {
	return &ThumbnailHandler{objects: objects, photos: photos}
}

func (h *ThumbnailHandler) Handle(ctx context.Context, job *Job) error {
	const op = "queue.ThumbnailHandler"

	data, err := h.objects.GetObject(ctx, job.Payload.StorageKey)
	if err != nil {
		return err
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return errs.Wrap(errs.KindValidation, op, err)
	}

	thumb := imaging.Fill(src, ThumbnailSide, ThumbnailSide, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return errs.Wrap(errs.KindValidation, op, err)
	}

	thumbKey := blobstore.ThumbnailKey(job.Payload.StorageKey)
	if err := h.objects.PutObject(ctx, thumbKey, buf.Bytes(), "image/jpeg"); err != nil {
		return err
	}

	return h.photos.UpdatePhoto(ctx, job.Payload.PhotoID, storage.PhotoPatch{ThumbnailKey: &thumbKey})
}

// LabelHandler asks the detection collaborator for label suggestions and
// writes the filtered set back onto the photo. Independent of the thumbnail
// path; either can fail without affecting the other.
type LabelHandler struct {
	objects  ObjectStore
	detector labels.Detector
	photos   PhotoPatcher
}

func NewLabelHandler(objects ObjectStore, detector labels.Detector, photos PhotoPatcher) *LabelHandler {
	return &LabelHandler{objects: objects, detector: detector, photos: photos}
}

func (h *LabelHandler) Handle(ctx context.Context, job *Job) error {
	data, err := h.objects.GetObject(ctx, job.Payload.StorageKey)
	if err != nil {
		return err
	}

	detected, err := h.detector.DetectLabels(ctx, data)
	if err != nil {
		return err
	}

	suggested := FilterLabels(detected, MinLabelConfidence)
	return h.photos.UpdatePhoto(ctx, job.Payload.PhotoID, storage.PhotoPatch{SuggestedTags: &suggested})
}

// FilterLabels keeps labels at or above the confidence floor, lower-cases
// and de-duplicates them (highest confidence wins), and orders the result
// by descending confidence.
func FilterLabels(detected []labels.Label, minConfidence float64) []string {
	best := make(map[string]float64)
	for _, l := range detected {
		if l.Confidence < minConfidence {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(l.Name))
		if name == "" {
			continue
		}
		if c, ok := best[name]; !ok || l.Confidence > c {
			best[name] = l.Confidence
		}
	}

	names := make([]string, 0, len(best))
	for name := range best {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if best[names[i]] != best[names[j]] {
			return best[names[i]] > best[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
