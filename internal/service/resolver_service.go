package service

import (
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/repository"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

// previewLen is how many characters a physical credential actually
// reveals. The canonical comparison key is longer, so matching falls
// back to this prefix when no exact match exists.
const previewLen = 8

// ResolverService maps a scanned credential token to a cached student
// or teacher record and a validity verdict.
type ResolverService struct {
	store  *repository.SnapshotRepository
	logger *zap.Logger
}

// NewResolverService constructs the resolver.
func NewResolverService(store *repository.SnapshotRepository, logger *zap.Logger) *ResolverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolverService{store: store, logger: logger}
}

// Resolve looks up a raw token. It returns (nil, nil) when no
// credential matches, a typed error when the credential is not usable,
// and a Resolution otherwise. A matched ACTIVE tag whose person is not
// cached resolves to not-found: the kiosk never synthesizes a record.
func (s *ResolverService) Resolve(token string) (*models.Resolution, error) {
	var resolution *models.Resolution
	var resolveErr error

	s.store.View(func(snap *repository.Snapshot) {
		tag := matchTag(snap.Tags, token)
		if tag == nil {
			return
		}

		if err := tagStatusError(tag.Status); err != nil {
			resolveErr = err
			return
		}

		switch {
		case tag.StudentID != "":
			for i := range snap.Students {
				if snap.Students[i].ID == tag.StudentID {
					student := snap.Students[i]
					tagCopy := *tag
					resolution = &models.Resolution{Type: models.ResolvedStudent, Student: &student, Tag: &tagCopy}
					return
				}
			}
		case tag.TeacherID != "":
			for i := range snap.Teachers {
				if snap.Teachers[i].ID == tag.TeacherID {
					teacher := snap.Teachers[i]
					tagCopy := *tag
					resolution = &models.Resolution{Type: models.ResolvedTeacher, Teacher: &teacher, Tag: &tagCopy}
					return
				}
			}
		}
	})

	if resolveErr != nil {
		s.logger.Info("credential rejected", zap.String("code", appErrors.FromError(resolveErr).Code))
	}
	return resolution, resolveErr
}

// matchTag applies the three-tier match, first hit wins: exact token,
// case-insensitive prefix against full tokens, then the prefix against
// the short-preview field some backends supply instead.
func matchTag(tags []models.Tag, token string) *models.Tag {
	for i := range tags {
		if tags[i].Token == token {
			return &tags[i]
		}
	}

	if len(token) < previewLen {
		return nil
	}
	prefix := strings.ToLower(token[:previewLen])

	for i := range tags {
		stored := tags[i].Token
		if len(stored) >= previewLen && strings.ToLower(stored[:previewLen]) == prefix {
			return &tags[i]
		}
	}

	for i := range tags {
		if tags[i].ShortPreview != "" && strings.ToLower(tags[i].ShortPreview) == prefix {
			return &tags[i]
		}
	}

	return nil
}

func tagStatusError(status models.TagStatus) error {
	switch status {
	case models.TagStatusActive:
		return nil
	case models.TagStatusRevoked:
		return appErrors.ErrTagRevoked
	case models.TagStatusExpired:
		return appErrors.ErrTagExpired
	case models.TagStatusPending:
		return appErrors.ErrTagPending
	default:
		return appErrors.ErrTagInvalidStatus
	}
}
